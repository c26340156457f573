package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

func getIngestCmd(a *app) *cobra.Command {
	var (
		yes     bool
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "ingest FILE",
		Short: "Stage a census file, show the changeset and apply it",
		Long: `Stage FILE, print the changeset summary and ask for confirmation before
applying it. --yes skips the prompt.`,
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
			out := cmd.OutOrStdout()
			printSummary(out, staged, verbose)

			if staged.Changeset.Empty() {
				fmt.Fprintln(out, "Nothing to apply.")
				return svc.Discard(ctx, staged.ID)
			}
			if !yes {
				fmt.Fprint(out, "Apply these changes? [y/N]: ")
				answer, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					_ = svc.Discard(ctx, staged.ID)
					return fmt.Errorf("read confirmation: %w", err)
				}
				answer = strings.ToLower(strings.TrimSpace(answer))
				if answer != "y" && answer != "yes" {
					fmt.Fprintln(out, "Cancelled; nothing was applied.")
					return svc.Discard(ctx, staged.ID)
				}
			}

			res, err := svc.Confirm(ctx, staged.ID)
			if err != nil {
				return err
			}
			printResult(out, res)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "apply without asking")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "list every action")
	return cmd
}
