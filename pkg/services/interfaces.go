// Package services contains the dataset pipeline orchestration.
package services

import (
	"context"
	"time"

	"github.com/M2oDA-Lab/roq/pkg/dataset"
	"github.com/M2oDA-Lab/roq/pkg/models"
)

// DatasetService runs the processing pipeline and opens its artifacts.
type DatasetService interface {
	// Process loads the raw queries, builds samples, splits them by query and
	// writes one artifact per split.
	Process(ctx context.Context, opts dataset.Options) (*ProcessResult, error)
	// ProcessNoSplit builds samples and writes them as a single artifact.
	ProcessNoSplit(ctx context.Context, opts dataset.Options) (*ProcessResult, error)
	// Open returns one split, processing first when its artifacts are
	// missing or opts.ForceReload is set.
	Open(ctx context.Context, opts dataset.Options, split string) (*dataset.Dataset, error)
	// OpenNoSplit returns the unsplit dataset, processing first when needed.
	OpenNoSplit(ctx context.Context, opts dataset.Options) (*dataset.Dataset, error)
	// Inspect returns the latest recorded run of filesID.
	Inspect(ctx context.Context, filesID string) (*RunSummary, error)
}

// ProcessResult summarizes one pipeline run.
type ProcessResult struct {
	RunID   string
	FilesID string
	Build   dataset.BuildStats
	// Split is nil for the unsplit variant.
	Split *dataset.SplitStats
	// Samples and Queries count per artifact; the unsplit variant reports
	// under NoSplit.
	Samples map[string]int
	Queries map[string]int
	Elapsed time.Duration
}

// NoSplit names the single artifact of the unsplit variant.
const NoSplit = "all"

// RunSummary describes a recorded run.
type RunSummary struct {
	Run     *models.Run
	Queries map[models.Split]int
}

// Logger defines logging interface.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// MetricsCollector defines metrics collection interface.
type MetricsCollector interface {
	IncrementCounter(name string, labels ...string)
	AddCounter(name string, value float64, labels ...string)
	RecordHistogram(name string, value float64, labels ...string)
	RecordGauge(name string, value float64, labels ...string)
	StartTimer(name string) Timer
}

// Timer represents a timing measurement.
type Timer interface {
	Stop() time.Duration
}
