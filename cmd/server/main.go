// Package main is the entry point for the datagate server binary.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"

	"datagate/internal/api"
	"datagate/internal/config"
	"datagate/internal/db"
	"datagate/internal/domain"
	"datagate/internal/duck"
	"datagate/internal/middleware"
	"datagate/internal/partition"
	"datagate/internal/repository"
	"datagate/internal/schema"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	rootCmd := &cobra.Command{
		Use:           "datagate",
		Short:         "Schema-driven data access gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return config.LoadDotEnv(envFile)
		},
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "path to an optional dotenv file")

	rootCmd.AddCommand(newServeCmd(), newPruneCmd())
	return rootCmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Provision registered schemas and serve the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func newPruneCmd() *cobra.Command {
	var olderThanDays int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove partitions older than the retention window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return prune(cmd.Context(), olderThanDays)
		},
	}
	cmd.Flags().IntVar(&olderThanDays, "older-than-days", 0,
		"prune partitions ending more than this many days ago (default: PARTITION_RETENTION_DAYS)")
	return cmd
}

func newLogger(cfg *config.Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
}

// buildRepository wires the data path: either one pool over a single store
// file, or the partition router over a directory of them.
func buildRepository(cfg *config.Config, registry *schema.Registry, audit domain.AuditRepository, logger *slog.Logger) (domain.DataRepository, func(), error) {
	pool, err := duck.Open(cfg.DataDBPath, cfg.DuckDB, logger)
	if err != nil {
		return nil, nil, err
	}
	repo := repository.NewDataRepo(pool, registry, cfg.Limits, audit, logger)
	if err := repo.Provision(context.Background()); err != nil {
		_ = pool.Close()
		return nil, nil, err
	}

	if !cfg.Partition.Enabled {
		return repo, func() { _ = pool.Close() }, nil
	}

	// Partitioned schemas go through the router; schemas without a
	// partition column stay on the default store.
	router, err := partition.NewRouter(cfg.Partition, cfg.DuckDB, cfg.Limits, registry, audit, repo, logger)
	if err != nil {
		_ = pool.Close()
		return nil, nil, err
	}
	cleanup := func() {
		_ = router.Close()
		_ = pool.Close()
	}
	return router, cleanup, nil
}

func buildAudit(cfg *config.Config, logger *slog.Logger) (domain.AuditRepository, func(), error) {
	if cfg.AuditDBPath == "" {
		logger.Info("audit metastore disabled")
		return repository.NopAudit{}, func() {}, nil
	}

	writeDB, readDB, err := db.OpenSQLitePair(cfg.AuditDBPath, 4)
	if err != nil {
		return nil, nil, err
	}
	if err := db.RunMigrations(writeDB); err != nil {
		_ = readDB.Close()
		_ = writeDB.Close()
		return nil, nil, err
	}
	cleanup := func() {
		_ = readDB.Close()
		_ = writeDB.Close()
	}
	return repository.NewAuditRepo(writeDB, readDB), cleanup, nil
}

func serve(ctx context.Context) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	registry, err := schema.LoadFile(cfg.SchemaFile)
	if err != nil {
		return fmt.Errorf("load schemas: %w", err)
	}
	logger.Info("schemas loaded", "file", cfg.SchemaFile, "count", registry.Len())

	audit, closeAudit, err := buildAudit(cfg, logger)
	if err != nil {
		return err
	}
	defer closeAudit()

	data, closeData, err := buildRepository(cfg, registry, audit, logger)
	if err != nil {
		return err
	}
	defer closeData()

	handler := api.NewHandler(data, registry, audit, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(middleware.RateLimiter(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		Burst:             cfg.RateLimitBurst,
	}))
	r.Mount("/", handler.Routes())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http api listening", "addr", cfg.ListenAddr, "env", cfg.Env)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return nil
}

func prune(ctx context.Context, olderThanDays int) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	if !cfg.Partition.Enabled {
		return errors.New("partitioning is not enabled")
	}
	if olderThanDays <= 0 {
		olderThanDays = cfg.Partition.RetentionDays
	}
	if olderThanDays <= 0 {
		return errors.New("no retention window: set --older-than-days or PARTITION_RETENTION_DAYS")
	}

	registry, err := schema.LoadFile(cfg.SchemaFile)
	if err != nil {
		return fmt.Errorf("load schemas: %w", err)
	}

	router, err := partition.NewRouter(cfg.Partition, cfg.DuckDB, cfg.Limits, registry, repository.NopAudit{}, nil, logger)
	if err != nil {
		return err
	}
	defer router.Close()

	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	removed, err := router.Prune(ctx, cutoff)
	if err != nil {
		return err
	}
	logger.Info("prune complete", "cutoff", cutoff.Format(time.DateOnly), "removed", len(removed))
	return nil
}
