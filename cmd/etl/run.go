package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/customer-etl/internal/config"
	"github.com/jonathan/customer-etl/internal/db"
	"github.com/jonathan/customer-etl/internal/extract"
	"github.com/jonathan/customer-etl/internal/fetch"
	"github.com/jonathan/customer-etl/internal/load"
	"github.com/jonathan/customer-etl/internal/metrics"
	"github.com/jonathan/customer-etl/internal/pipeline"
	"github.com/jonathan/customer-etl/internal/transform"
)

var runCommand = &cobra.Command{
	Use:   "run [run-id...]",
	Short: "Run or resume ETL runs",
	Long: `Runs the download -> extract -> transform -> load pipeline for each run id.

A run id that was interrupted resumes from its checkpoints; a completed run id is left untouched.
A run id that failed is not retried: fix the cause and start a new run id.
Distinct run ids run concurrently. When no run id is given a new one is generated.
Run ids name the staged archive file, so they must not contain path separators.

Configuration can be loaded from a JSON file using --config. ETL_* environment variables override
the file, and command-line flags override both.`,
	RunE: runRunCmd,
}

var (
	runConfigPath     string
	runDatabaseURL    string
	runSourceURL      string
	runStagingDir     string
	runChunkSize      int
	runRequestTimeout int
	runMetricsAddr    string
	runMaxConcurrent  int
)

func init() {
	// Config file flag (processed first)
	runCommand.Flags().StringVar(&runConfigPath, "config", "", "Path to config.json file (values can be overridden by other flags)")

	runCommand.Flags().StringVar(&runDatabaseURL, "db-url", "", "PostgreSQL connection URL (defaults to ETL_DATABASE_URL or DATABASE_URL)")
	runCommand.Flags().StringVarP(&runSourceURL, "source-url", "s", "", "Archive URL (http(s):// or s3://bucket/key)")
	runCommand.Flags().StringVar(&runStagingDir, "staging-dir", "", "Directory downloaded archives are staged in")
	runCommand.Flags().IntVar(&runChunkSize, "chunk-size", 0, "Records per upsert batch")
	runCommand.Flags().IntVar(&runRequestTimeout, "request-timeout", 0, "Download timeout in seconds")
	runCommand.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running (e.g. :9090)")
	runCommand.Flags().IntVar(&runMaxConcurrent, "max-concurrent", 4, "Maximum number of runs executed at once")

	rootCmd.AddCommand(runCommand)
}

// resolveConfig merges the config file, environment and flags, in that order
// of increasing priority, and validates the result.
func resolveConfig(cmd *cobra.Command) (config.Config, error) {
	var cfg config.Config
	if runConfigPath != "" {
		loaded, err := config.LoadConfig(runConfigPath)
		if err != nil {
			return config.Config{}, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = *loaded
		logger.Debug().Str("path", runConfigPath).Msg("Loaded config file")
	}

	if err := cfg.ApplyEnv(); err != nil {
		return config.Config{}, err
	}

	// Only override if the flag was explicitly set
	if cmd.Flags().Changed("db-url") {
		cfg.DatabaseURL = runDatabaseURL
	}
	if cmd.Flags().Changed("source-url") {
		cfg.SourceURL = runSourceURL
	}
	if cmd.Flags().Changed("staging-dir") {
		cfg.StagingDir = runStagingDir
	}
	if cmd.Flags().Changed("chunk-size") {
		cfg.ChunkSize = runChunkSize
	}
	if cmd.Flags().Changed("request-timeout") {
		cfg.RequestTimeout = runRequestTimeout
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.MetricsAddr = runMetricsAddr
	}

	cfg = cfg.MergeWithDefaults(config.Defaults())
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// runIDsFromArgs returns the run ids to execute, generating one when none is
// given. A run id may appear only once and must be usable as a staged file name.
func runIDsFromArgs(args []string) ([]string, error) {
	if len(args) == 0 {
		return []string{uuid.NewString()}, nil
	}
	seen := make(map[string]bool, len(args))
	for _, id := range args {
		if id == "" {
			return nil, fmt.Errorf("run id must not be empty")
		}
		if err := fetch.CheckRunID(id); err != nil {
			return nil, err
		}
		if seen[id] {
			return nil, fmt.Errorf("run id %q given more than once; a run id must not execute concurrently with itself", id)
		}
		seen[id] = true
	}
	return args, nil
}

func runRunCmd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	runIDs, err := runIDsFromArgs(args)
	if err != nil {
		return err
	}
	if runMaxConcurrent < 1 {
		return fmt.Errorf("--max-concurrent must be at least 1")
	}

	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close()

	source, err := fetch.NewSource(cfg.SourceURL, fetch.SourceOptions{
		Timeout:     cfg.Timeout(),
		S3Endpoint:  cfg.S3Endpoint,
		S3AccessKey: cfg.S3AccessKey,
		S3SecretKey: cfg.S3SecretKey,
		S3Region:    cfg.S3Region,
		S3UseSSL:    cfg.S3UseSSL,
	})
	if err != nil {
		return err
	}

	transformer, err := transform.New()
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	orch := pipeline.New(pipeline.Deps{
		Runs: database,
		Fetcher: fetch.New(source, fetch.Options{
			StagingDir: cfg.StagingDir,
			Logger:     logger,
		}),
		Extractor:   extract.New(database, logger),
		Transformer: transformer,
		Loader: load.New(database, database, load.Options{
			ChunkSize: cfg.ChunkSize,
			Metrics:   m,
			Logger:    logger,
		}),
		Metrics: m,
		Logger:  logger,
	})

	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	var server errgroup.Group
	if cfg.MetricsAddr != "" {
		server.Go(func() error {
			return metrics.Serve(serverCtx, cfg.MetricsAddr, registry, logger)
		})
	}

	errs := executeRuns(ctx, orch, runIDs, runMaxConcurrent)

	stopServer()
	if err := server.Wait(); err != nil {
		logger.Warn().Err(err).Msg("Metrics server stopped with error")
	}

	out := cmd.OutOrStdout()
	for _, id := range runIDs {
		run, err := database.GetRun(context.WithoutCancel(ctx), id)
		if err != nil || run == nil {
			_, _ = fmt.Fprintf(out, "%s\tUNKNOWN\n", id)
			continue
		}
		_, _ = fmt.Fprintf(out, "%s\t%s\t%s\n", id, run.Status, run.CurrentPhase)
	}

	return errors.Join(errs...)
}

// runner is the part of the orchestrator executeRuns needs.
type runner interface {
	Run(ctx context.Context, runID string) error
}

// executeRuns runs every id with at most limit runs in flight. Runs are
// independent: a failing run does not cancel the others.
func executeRuns(ctx context.Context, r runner, runIDs []string, limit int) []error {
	var g errgroup.Group
	g.SetLimit(limit)

	errs := make([]error, len(runIDs))
	for i, id := range runIDs {
		g.Go(func() error {
			logger.Info().Str("run_id", id).Msg("Starting run")
			if err := r.Run(ctx, id); err != nil {
				errs[i] = fmt.Errorf("run %s: %w", id, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}
