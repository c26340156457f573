package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/zootally/internal/store"
)

func getMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema",
		Long: `Create any missing tables and indexes. Safe to run repeatedly.
SQLite databases are also migrated implicitly on every command.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := a.openStore(ctx, true)
			if err != nil {
				return err
			}
			defer st.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "Schema is up to date (%s)\n", store.Scheme(a.cfg.Database.URL))
			return nil
		},
	}
}
