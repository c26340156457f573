package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/zootally/internal/tally"
)

func getApplyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "apply CHANGESET.json",
		Short: "Apply a changeset written by 'tally stage -o'",
		Long: `Apply every action of a saved changeset in one transaction and record it
in the ingest log. If any action fails nothing is written.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var staged tally.StagedChangeset
			if err := json.Unmarshal(data, &staged); err != nil {
				return fmt.Errorf("read changeset %s: %w", args[0], err)
			}

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

			res, err := svc.ApplyStaged(ctx, &staged)
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}
}
