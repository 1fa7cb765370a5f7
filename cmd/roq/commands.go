package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/M2oDA-Lab/roq/cmd/roq/config"
	"github.com/M2oDA-Lab/roq/pkg/dataset"
	"github.com/M2oDA-Lab/roq/pkg/infrastructure/converter"
	"github.com/M2oDA-Lab/roq/pkg/infrastructure/memory"
	"github.com/M2oDA-Lab/roq/pkg/infrastructure/metrics"
	"github.com/M2oDA-Lab/roq/pkg/models"
	"github.com/M2oDA-Lab/roq/pkg/repositories"
	"github.com/M2oDA-Lab/roq/pkg/repositories/arrowipc"
	"github.com/M2oDA-Lab/roq/pkg/repositories/duckdb"
	"github.com/M2oDA-Lab/roq/pkg/repositories/msgpack"
	"github.com/M2oDA-Lab/roq/pkg/services"
)

// app holds the pipeline components shared by the commands.
type app struct {
	logger    zerolog.Logger
	allocator *memory.TrackedAllocator
	artifacts repositories.ArtifactRepository
	manifest  repositories.ManifestRepository
	service   services.DatasetService
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger, collector metrics.Collector) (*app, error) {
	allocator := memory.Default()
	conv := converter.NewSampleConverter(allocator, logger)

	a := &app{
		logger:    logger,
		allocator: allocator,
		artifacts: arrowipc.NewArtifactRepository(cfg.ProcessedDir(), allocator, conv, logger),
	}

	if cfg.Manifest.Enabled {
		if cfg.Manifest.DSN == "" {
			if err := os.MkdirAll(cfg.ProcessedDir(), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create processed directory: %w", err)
			}
		}
		db, err := duckdb.Open(ctx, duckdb.DefaultConfig(cfg.ManifestDSN()), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open manifest: %w", err)
		}
		manifest, err := duckdb.NewManifestRepository(ctx, db, logger)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to open manifest: %w", err)
		}
		a.manifest = manifest
	}

	a.service = services.NewDatasetService(
		services.Dependencies{
			Raw:         msgpack.NewRawRepository(cfg.Dataset.LabeledDataDir, logger),
			Artifacts:   a.artifacts,
			Manifest:    a.manifest,
			Allocator:   allocator,
			BuildLogger: logger.With().Str("component", "sample_builder").Logger(),
		},
		&serviceLoggerAdapter{logger: logger.With().Str("component", "dataset_service").Logger()},
		&serviceMetricsAdapter{collector: collector},
	)
	return a, nil
}

// Close releases the manifest database.
func (a *app) Close() {
	if a.manifest == nil {
		return
	}
	if err := a.manifest.Close(); err != nil {
		a.logger.Error().Err(err).Msg("Error closing manifest")
	}
}

// commandContext cancels on SIGINT and SIGTERM.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func newProcessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Build samples and write the split artifacts",
		Long: `Load the labeled plans, build one sample per accepted plan, split the
queries into train, validation and test sets and write one artifact per split.

Example:
  roq process --files-id imdb --seed 42
  roq process --files-id imdb --no-split
  roq process --files-id imdb --push-gateway http://localhost:9091`,
		RunE: runProcess,
	}
	addDatasetFlags(cmd.Flags())
	cmd.Flags().Bool("no-split", false, "write a single unsplit artifact")
	cmd.Flags().String("push-gateway", "", "Prometheus Pushgateway URL to push run metrics to")
	cmd.Flags().String("push-job", "roq", "Pushgateway job name")
	return cmd
}

func runProcess(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := setupLogging(cfg.LogLevel, cmd.ErrOrStderr())
	ctx, cancel := commandContext(cmd)
	defer cancel()

	var collector metrics.Collector = metrics.NewNoOpCollector()
	var prom *metrics.PrometheusCollector
	if cfg.Metrics.PushGateway != "" {
		prom = metrics.NewPrometheusCollector()
		collector = prom
	}

	a, err := newApp(ctx, cfg, logger, collector)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := cfg.DatasetOptions()
	var result *services.ProcessResult
	if cfg.Dataset.NoSplit {
		result, err = a.service.ProcessNoSplit(ctx, opts)
	} else {
		result, err = a.service.Process(ctx, opts)
	}
	if err != nil {
		return fmt.Errorf("process failed: %w", err)
	}
	printResult(cmd.OutOrStdout(), result)

	if prom != nil {
		if err := prom.Push(ctx, cfg.Metrics.PushGateway, cfg.Metrics.PushJob); err != nil {
			logger.Warn().Err(err).Str("gateway", cfg.Metrics.PushGateway).Msg("Failed to push metrics")
		} else {
			logger.Info().Str("gateway", cfg.Metrics.PushGateway).Msg("Pushed run metrics")
		}
	}
	return nil
}

func printResult(w io.Writer, r *services.ProcessResult) {
	total := 0
	for _, n := range r.Samples {
		total += n
	}
	fmt.Fprintf(w, "run %s: %d samples from %d queries (%s)\n",
		r.RunID, total, r.Build.Queries, r.Elapsed.Round(time.Millisecond))

	names := []string{services.NoSplit}
	if r.Split != nil {
		names = []string{string(models.SplitTrain), string(models.SplitVal), string(models.SplitTest)}
	}
	for _, name := range names {
		fmt.Fprintf(w, "  %-5s samples=%d queries=%d\n", name, r.Samples[name], r.Queries[name])
	}
	if r.Split != nil {
		fmt.Fprintf(w, "  long-running queries=%d threshold=%.6g test_from_longrun=%d\n",
			r.Split.LongRunning, r.Split.LongRunThreshold, r.Split.TestFromLongRun)
	}
}

func newLoadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Open one split, processing first when its artifacts are missing",
		Long: `Open a split of the processed dataset and print a summary. The split is
one of train, val or test; "all" opens the unsplit variant.

Example:
  roq load --files-id imdb --split val`,
		RunE: runLoad,
	}
	addDatasetFlags(cmd.Flags())
	cmd.Flags().String("split", string(models.SplitTrain), "split to open: train, val, test or all")
	return cmd
}

func runLoad(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := setupLogging(cfg.LogLevel, cmd.ErrOrStderr())
	ctx, cancel := commandContext(cmd)
	defer cancel()

	a, err := newApp(ctx, cfg, logger, metrics.NewNoOpCollector())
	if err != nil {
		return err
	}
	defer a.Close()

	split, _ := cmd.Flags().GetString("split")
	opts := cfg.DatasetOptions()
	var ds *dataset.Dataset
	if split == services.NoSplit {
		ds, err = a.service.OpenNoSplit(ctx, opts)
	} else {
		ds, err = a.service.Open(ctx, opts, split)
	}
	if err != nil {
		return err
	}
	meta := ds.Meta()
	fmt.Fprintf(cmd.OutOrStdout(), "%s/%s: %d samples, %d queries (run %s)\n",
		meta.FilesID, split, ds.Len(), len(ds.QueryIDs()), meta.RunID)
	return nil
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Show the latest recorded split of a dataset",
		RunE:  runInspect,
	}
}

func runInspect(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := setupLogging(cfg.LogLevel, cmd.ErrOrStderr())
	ctx, cancel := commandContext(cmd)
	defer cancel()

	a, err := newApp(ctx, cfg, logger, metrics.NewNoOpCollector())
	if err != nil {
		return err
	}
	defer a.Close()

	summary, err := a.service.Inspect(ctx, cfg.Dataset.FilesID)
	if err != nil {
		return err
	}

	run := summary.Run
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s of %s created %s\n", run.RunID, run.FilesID, run.CreatedAt.Format(time.RFC3339))
	numSamples := "all"
	if run.NumSamples != nil {
		numSamples = strconv.Itoa(*run.NumSamples)
	}
	fmt.Fprintf(out, "  seed=%d num_samples=%s val_samples=%g test_samples=%g test_longrun_share=%g total_samples=%d\n",
		run.Seed, numSamples, run.ValSamples, run.TestSamples, run.TestLongrunShare, run.TotalSamples)
	for _, split := range models.Splits {
		fmt.Fprintf(out, "  %-5s queries=%d\n", split, summary.Queries[split])
	}
	return nil
}
