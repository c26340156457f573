package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/zootally/internal/tally"
)

func getStageCmd(a *app) *cobra.Command {
	var (
		output  string
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "stage FILE",
		Short: "Compute the changeset for a census file without applying it",
		Long: `Read and validate FILE (.xlsx or .csv), then compute the adds, updates
and deletes that would reconcile the database with it. Nothing is written
to the database. With -o the changeset is saved as JSON for 'tally apply'.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := a.openStore(ctx, false)
			if err != nil {
				return err
			}
			defer st.Close()
			svc, err := a.service(st)
			if err != nil {
				return err
			}

			staged, err := stageFile(cmd, svc, args[0])
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), staged, verbose)

			if output == "" {
				return nil
			}
			data, err := json.MarshalIndent(staged, "", "  ")
			if err != nil {
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("write changeset: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Changeset written to %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the changeset JSON to this file")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "list every action")
	return cmd
}

// stageFile opens path and stages it under its base name.
func stageFile(cmd *cobra.Command, svc *tally.Service, path string) (*tally.StagedChangeset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return svc.Stage(cmd.Context(), filepath.Base(path), f)
}
