package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/zootally/internal/config"
	"github.com/JonMunkholm/zootally/internal/logging"
	"github.com/JonMunkholm/zootally/internal/store"
	"github.com/JonMunkholm/zootally/internal/store/postgres"
	"github.com/JonMunkholm/zootally/internal/tally"
)

// app holds what every subcommand needs once the root has bootstrapped.
type app struct {
	dbURL string
	cfg   *config.Config
}

func getRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "tally",
		Short: "Reconcile zoo census spreadsheets against the animal database",
		Long: `tally reads a census spreadsheet (.xlsx or .csv), computes the changeset
that would bring the database in line with it, and applies that changeset
in one transaction once it has been reviewed.

Typical flow:
  tally stage census.xlsx -o changes.json   # review changes.json
  tally apply changes.json

or, interactively:
  tally ingest census.xlsx

Configuration comes from the environment (and a .env file when present).
DATABASE_URL selects the store: postgres://... or sqlite:path/to/zoo.db.`,
		Version:       Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// A missing .env is normal.
			_ = godotenv.Load()
			if a.dbURL != "" {
				if err := os.Setenv("DATABASE_URL", a.dbURL); err != nil {
					return err
				}
			}
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			a.cfg = cfg
			logging.Setup(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
			slog.Debug("configuration loaded", "config", cfg.String())
			return nil
		},
	}

	rootCmd.SetVersionTemplate("{{.Version}}\n")
	rootCmd.Flags().BoolP("version", "V", false, "version for tally")
	rootCmd.PersistentFlags().StringVar(&a.dbURL, "db", "", "database URL (overrides DATABASE_URL)")

	rootCmd.AddCommand(
		getMigrateCmd(a),
		getStageCmd(a),
		getApplyCmd(a),
		getIngestCmd(a),
		getExportCmd(a),
		getHistoryCmd(a),
	)
	return rootCmd
}

// openStore opens the configured store. migrate forces schema creation
// on PostgreSQL; SQLite always migrates.
func (a *app) openStore(ctx context.Context, migrate bool) (tally.Store, error) {
	db := a.cfg.Database
	return store.Open(ctx, db.URL, postgres.PoolConfig{
		MaxConns:        db.MaxConns,
		MinConns:        db.MinConns,
		MaxConnLifetime: db.MaxConnLifetime,
		MaxConnIdleTime: db.MaxConnIdleTime,
	}, migrate || db.Migrate)
}

// service builds a Service on st. The CLI stages in memory and does not
// archive uploads.
func (a *app) service(st tally.Store) (*tally.Service, error) {
	return tally.NewService(tally.ServiceConfig{
		Store:          st,
		Staging:        tally.NewMemoryStaging(),
		Logger:         slog.Default(),
		AccessionWidth: a.cfg.Ingest.AccessionWidth,
		StageTTL:       a.cfg.Ingest.StageTTL,
		MaxUploadBytes: a.cfg.Ingest.MaxFileSize,
		ExportLocation: a.cfg.Export.Location(),
	})
}
