package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/zootally/internal/archive"
	"github.com/JonMunkholm/zootally/internal/config"
	"github.com/JonMunkholm/zootally/internal/logging"
	"github.com/JonMunkholm/zootally/internal/metrics"
	"github.com/JonMunkholm/zootally/internal/store"
	"github.com/JonMunkholm/zootally/internal/store/postgres"
	"github.com/JonMunkholm/zootally/internal/tally"
	"github.com/JonMunkholm/zootally/internal/web"
)

func main() {
	// Overload lets a local .env win over the shell environment.
	envErr := godotenv.Overload()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)
	if envErr != nil {
		slog.Info("no .env file found, using environment variables")
	}
	slog.Info("configuration loaded", "config", cfg.String())

	ctx := context.Background()
	st, err := store.Open(ctx, cfg.Database.URL, postgres.PoolConfig{
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
	}, cfg.Database.Migrate)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer st.Close()
	slog.Info("connected to database", "store", store.Scheme(cfg.Database.URL))

	arc, err := archive.Open(ctx, archive.Config{
		Driver:    archive.Driver(cfg.Archive.Driver),
		FSRoot:    cfg.Archive.Root,
		S3Bucket:  cfg.Archive.Bucket,
		S3Region:  cfg.Archive.Region,
		S3Prefix:  cfg.Archive.Prefix,
		Endpoint:  cfg.Archive.Endpoint,
		PathStyle: cfg.Archive.PathStyle,
	})
	if err != nil {
		slog.Error("failed to open upload archive", "error", err)
		os.Exit(1)
	}

	rec := metrics.NewRecorder()
	staging := tally.NewMemoryStaging()

	svcCfg := tally.ServiceConfig{
		Store:          st,
		Staging:        staging,
		Metrics:        rec,
		Limiter:        tally.NewLimiter(cfg.Ingest.MaxConcurrent, cfg.Ingest.MaxWaitTime),
		Logger:         slog.Default(),
		AccessionWidth: cfg.Ingest.AccessionWidth,
		StageTTL:       cfg.Ingest.StageTTL,
		MaxUploadBytes: cfg.Ingest.MaxFileSize,
		ExportLocation: cfg.Export.Location(),
	}
	if arc != nil {
		svcCfg.Archive = arc
		slog.Info("archiving uploads", "driver", arc.Driver())
	}
	service, err := tally.NewService(svcCfg)
	if err != nil {
		slog.Error("failed to create service", "error", err)
		os.Exit(1)
	}

	opts := web.Options{Metrics: rec.Handler()}
	if p, ok := st.(web.Pinger); ok {
		opts.Pinger = p
	}
	server := web.NewServer(service, cfg, opts)

	jobCtx, cancelJobs := context.WithCancel(context.Background())
	go staging.RunSweeper(jobCtx, cfg.Ingest.SweepInterval)

	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Let in-flight stages and confirms finish before closing the store.
		limiter := service.Limiter()
		if active := limiter.ActiveCount(); active > 0 {
			slog.Info("waiting for ingests to complete", "active", active)
			if err := limiter.WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("ingests did not complete in time", "error", err)
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		cancelJobs()
		return
	}
	<-done
	slog.Info("server stopped")
}
