package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/M2oDA-Lab/roq/pkg/dataset"
	"github.com/M2oDA-Lab/roq/pkg/errors"
	"github.com/M2oDA-Lab/roq/pkg/infrastructure/memory"
	"github.com/M2oDA-Lab/roq/pkg/infrastructure/metrics"
	"github.com/M2oDA-Lab/roq/pkg/linearize"
	"github.com/M2oDA-Lab/roq/pkg/models"
	"github.com/M2oDA-Lab/roq/pkg/repositories"
)

// Dependencies are the collaborators of the dataset service.
type Dependencies struct {
	Raw       repositories.RawRepository
	Artifacts repositories.ArtifactRepository
	// Manifest is optional; runs are not recorded without it.
	Manifest   repositories.ManifestRepository
	Linearizer linearize.Linearizer
	// Allocator is optional; when set its peak usage is reported per run.
	Allocator *memory.TrackedAllocator
	// BuildLogger receives the sample builder's per-query diagnostics.
	BuildLogger zerolog.Logger
}

type datasetService struct {
	deps    Dependencies
	logger  Logger
	metrics MetricsCollector
	now     func() time.Time
}

// NewDatasetService creates a dataset service.
func NewDatasetService(deps Dependencies, logger Logger, metrics MetricsCollector) DatasetService {
	if deps.Linearizer == nil {
		deps.Linearizer = linearize.NewTreeConv(nil)
	}
	return &datasetService{
		deps:    deps,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// load reads the raw collection and applies the optional subsample.
func (s *datasetService) load(ctx context.Context, opts dataset.Options) ([]*models.QueryRecord, error) {
	timer := s.metrics.StartTimer("load")
	defer timer.Stop()

	records, err := s.deps.Raw.Load(ctx, opts.FilesID)
	if err != nil {
		return nil, err
	}
	records, err = dataset.Subsample(records, opts.NumSamples, opts.Seed)
	if err != nil {
		return nil, err
	}

	s.metrics.AddCounter(metrics.QueriesLoaded, float64(len(records)), "files_id", opts.FilesID)
	fields := []interface{}{"files_id", opts.FilesID, "queries", len(records)}
	if opts.NumSamples != nil {
		fields = append(fields, "num_samples", *opts.NumSamples)
	}
	s.logger.Info("Loaded queries", fields...)
	return records, nil
}

func (s *datasetService) build(opts dataset.Options, records []*models.QueryRecord) (*dataset.BuildResult, error) {
	timer := s.metrics.StartTimer("build")
	defer timer.Stop()

	builder := dataset.NewBuilder(s.deps.Linearizer, s.deps.BuildLogger).
		WithHooks(opts.PreFilter, opts.PreTransform)
	res, err := builder.Build(records)
	if err != nil {
		return nil, err
	}
	if len(res.Samples) == 0 {
		return nil, errors.Newf(errors.CodeInvalidArgument, "no samples built from %d queries of %s", len(records), opts.FilesID)
	}

	s.metrics.AddCounter(metrics.SamplesBuilt, float64(len(res.Samples)), "files_id", opts.FilesID)
	s.metrics.AddCounter(metrics.QueriesSkipped, float64(res.Stats.TruncatedQueries), "files_id", opts.FilesID)
	s.logger.Info("Built samples",
		"files_id", opts.FilesID,
		"samples", len(res.Samples),
		"truncated_queries", res.Stats.TruncatedQueries,
		"skipped_plans", res.Stats.SkippedPlans,
		"filtered", res.Stats.Filtered)
	return res, nil
}

func (s *datasetService) reportAllocator() {
	if s.deps.Allocator == nil {
		return
	}
	stats := s.deps.Allocator.Stats()
	s.metrics.RecordGauge(metrics.ArrowPeakBytes, float64(stats.PeakBytes))
	s.logger.Debug("Arrow memory", "peak_bytes", stats.PeakBytes, "in_use_bytes", stats.BytesUsed, "allocations", stats.Allocations)
}

// Process runs the full pipeline for the split variant.
func (s *datasetService) Process(ctx context.Context, opts dataset.Options) (*ProcessResult, error) {
	start := s.now()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	records, err := s.load(ctx, opts)
	if err != nil {
		return nil, err
	}
	built, err := s.build(opts, records)
	if err != nil {
		return nil, err
	}

	splitTimer := s.metrics.StartTimer("split")
	assignment, splitStats, err := dataset.Split(dataset.SplitInputFromSamples(built.Samples), opts.SplitConfig())
	splitTimer.Stop()
	if err != nil {
		return nil, err
	}
	s.metrics.RecordGauge(metrics.LongRunningQueries, float64(splitStats.LongRunning), "files_id", opts.FilesID)
	s.logger.Info("Split queries",
		"files_id", opts.FilesID,
		"unique_queries", splitStats.UniqueQueries,
		"long_running", splitStats.LongRunning,
		"long_run_threshold", splitStats.LongRunThreshold,
		"train", len(assignment.Train),
		"val", len(assignment.Val),
		"test", len(assignment.Test))

	result := &ProcessResult{
		RunID:   uuid.New().String(),
		FilesID: opts.FilesID,
		Build:   built.Stats,
		Split:   splitStats,
		Samples: make(map[string]int, len(models.Splits)),
		Queries: make(map[string]int, len(models.Splits)),
	}

	saveTimer := s.metrics.StartTimer("materialize")
	parts := dataset.Partition(built.Samples, assignment)
	for _, split := range models.Splits {
		samples := parts[split]
		meta := &models.ArtifactMeta{
			FilesID:     opts.FilesID,
			Split:       string(split),
			RunID:       result.RunID,
			Seed:        opts.Seed,
			SampleCount: len(samples),
		}
		if err := s.deps.Artifacts.Save(ctx, models.ArtifactName(opts.FilesID, split), meta, samples); err != nil {
			saveTimer.Stop()
			return nil, errors.Wrapf(err, errors.GetCode(err), "failed to save %s split", split)
		}
		result.Samples[string(split)] = len(samples)
		result.Queries[string(split)] = len(assignment.IDs(split))
		s.metrics.RecordGauge(metrics.SplitSamples, float64(len(samples)), "files_id", opts.FilesID, "split", string(split))
		s.metrics.RecordGauge(metrics.SplitQueries, float64(len(assignment.IDs(split))), "files_id", opts.FilesID, "split", string(split))
	}
	saveTimer.Stop()

	if s.deps.Manifest != nil {
		share := splitStats.TestLongrunShare
		run := &models.Run{
			RunID:            result.RunID,
			FilesID:          opts.FilesID,
			Seed:             opts.Seed,
			NumSamples:       opts.NumSamples,
			ValSamples:       opts.ValSamples,
			TestSamples:      opts.TestSamples,
			TestLongrunShare: share,
			TotalSamples:     len(built.Samples),
			CreatedAt:        start,
		}
		if err := s.deps.Manifest.RecordRun(ctx, run, assignment); err != nil {
			return nil, err
		}
	}

	s.reportAllocator()
	result.Elapsed = s.now().Sub(start)
	s.logger.Info("Processed dataset",
		"files_id", opts.FilesID,
		"run_id", result.RunID,
		"train", result.Samples[string(models.SplitTrain)],
		"val", result.Samples[string(models.SplitVal)],
		"test", result.Samples[string(models.SplitTest)],
		"elapsed", result.Elapsed)
	return result, nil
}

// ProcessNoSplit builds every sample into one artifact.
func (s *datasetService) ProcessNoSplit(ctx context.Context, opts dataset.Options) (*ProcessResult, error) {
	start := s.now()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	records, err := s.load(ctx, opts)
	if err != nil {
		return nil, err
	}
	built, err := s.build(opts, records)
	if err != nil {
		return nil, err
	}

	result := &ProcessResult{
		RunID:   uuid.New().String(),
		FilesID: opts.FilesID,
		Build:   built.Stats,
		Samples: map[string]int{NoSplit: len(built.Samples)},
		Queries: map[string]int{NoSplit: len(dataset.New(NoSplit, nil, built.Samples, nil).QueryIDs())},
	}

	meta := &models.ArtifactMeta{
		FilesID:     opts.FilesID,
		Split:       NoSplit,
		RunID:       result.RunID,
		Seed:        opts.Seed,
		SampleCount: len(built.Samples),
	}
	saveTimer := s.metrics.StartTimer("materialize")
	err = s.deps.Artifacts.Save(ctx, models.NoSplitArtifactName(opts.FilesID), meta, built.Samples)
	saveTimer.Stop()
	if err != nil {
		return nil, err
	}
	s.metrics.RecordGauge(metrics.SplitSamples, float64(len(built.Samples)), "files_id", opts.FilesID, "split", NoSplit)

	s.reportAllocator()
	result.Elapsed = s.now().Sub(start)
	s.logger.Info("Processed unsplit dataset",
		"files_id", opts.FilesID,
		"run_id", result.RunID,
		"samples", len(built.Samples),
		"elapsed", result.Elapsed)
	return result, nil
}

// Open validates the split name before touching any storage.
func (s *datasetService) Open(ctx context.Context, opts dataset.Options, split string) (*dataset.Dataset, error) {
	sp, err := models.ParseSplit(split)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(models.Splits))
	for _, other := range models.Splits {
		names = append(names, models.ArtifactName(opts.FilesID, other))
	}
	if err := s.ensure(ctx, opts, names, s.Process); err != nil {
		return nil, err
	}

	meta, samples, err := s.deps.Artifacts.Load(ctx, models.ArtifactName(opts.FilesID, sp))
	if err != nil {
		return nil, err
	}
	s.logger.Debug("Opened split", "files_id", opts.FilesID, "split", split, "samples", len(samples), "run_id", meta.RunID)
	return dataset.New(string(sp), meta, samples, opts.Transform), nil
}

// OpenNoSplit returns the unsplit dataset.
func (s *datasetService) OpenNoSplit(ctx context.Context, opts dataset.Options) (*dataset.Dataset, error) {
	name := models.NoSplitArtifactName(opts.FilesID)
	if err := s.ensure(ctx, opts, []string{name}, s.ProcessNoSplit); err != nil {
		return nil, err
	}

	meta, samples, err := s.deps.Artifacts.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	return dataset.New(NoSplit, meta, samples, opts.Transform), nil
}

// ensure runs process unless every named artifact exists and no reload was
// requested.
func (s *datasetService) ensure(
	ctx context.Context,
	opts dataset.Options,
	names []string,
	process func(context.Context, dataset.Options) (*ProcessResult, error),
) error {
	if !opts.ForceReload {
		exists, err := s.deps.Artifacts.Exists(ctx, names...)
		if err != nil {
			return err
		}
		if exists {
			s.metrics.IncrementCounter("artifact_cache_hits", "files_id", opts.FilesID)
			return nil
		}
	}

	s.logger.Info("Processing dataset", "files_id", opts.FilesID, "force_reload", opts.ForceReload)
	_, err := process(ctx, opts)
	return err
}

// Inspect returns the latest run and its per-split query counts.
func (s *datasetService) Inspect(ctx context.Context, filesID string) (*RunSummary, error) {
	if s.deps.Manifest == nil {
		return nil, errors.New(errors.CodeConfig, "no manifest configured")
	}
	run, err := s.deps.Manifest.LatestRun(ctx, filesID)
	if err != nil {
		return nil, err
	}
	counts, err := s.deps.Manifest.SplitCounts(ctx, run.RunID)
	if err != nil {
		return nil, err
	}
	return &RunSummary{Run: run, Queries: counts}, nil
}
