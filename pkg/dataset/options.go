// Package dataset builds labeled query-plan samples and partitions them into
// leakage-free train, validation and test splits.
package dataset

import (
	"math"

	"github.com/M2oDA-Lab/roq/pkg/errors"
	"github.com/M2oDA-Lab/roq/pkg/models"
)

// Default split settings.
const (
	DefaultValSamples       = 0.1
	DefaultTestSamples      = 0.01
	DefaultTestLongrunShare = 0.5
	// LongRunningPercentile is the optimizer latency percentile above which a
	// query counts as long-running.
	LongRunningPercentile = 99.0
)

// FilterFunc decides whether a built sample is kept.
type FilterFunc func(s *models.Sample) bool

// TransformFunc returns a replacement for a sample.
type TransformFunc func(s *models.Sample) *models.Sample

// Options configures a dataset.
type Options struct {
	// Root is the dataset root; processed artifacts live under Root/processed.
	Root           string
	FilesID        string
	LabeledDataDir string
	Seed           int64
	// NumSamples is the number of queries drawn from the raw collection; nil
	// keeps them all.
	NumSamples *int
	// ValSamples and TestSamples are fractions of the unique query count when
	// below 1, absolute query counts otherwise.
	ValSamples  float64
	TestSamples float64
	// TestLongrunShare is the fraction of long-running queries sent to the
	// test split, in (0, 1). Nil derives it from TestSamples.
	TestLongrunShare *float64
	ForceReload      bool

	PreFilter    FilterFunc
	PreTransform TransformFunc
	// Transform is applied on every access to a loaded sample.
	Transform TransformFunc
}

// DefaultOptions returns options with the default split sizes.
func DefaultOptions(filesID string) Options {
	share := DefaultTestLongrunShare
	return Options{
		Root:             "./",
		FilesID:          filesID,
		LabeledDataDir:   "./labeled_data/",
		ValSamples:       DefaultValSamples,
		TestSamples:      DefaultTestSamples,
		TestLongrunShare: &share,
	}
}

// Validate checks the options before any processing starts.
func (o *Options) Validate() error {
	if o.FilesID == "" {
		return errors.Wrap(errors.ErrInvalidConfig, errors.CodeConfig, "files id is required")
	}
	if o.NumSamples != nil && *o.NumSamples < 0 {
		return errors.Newf(errors.CodeConfig, "num samples must not be negative, got %d", *o.NumSamples)
	}
	for name, v := range map[string]float64{"val samples": o.ValSamples, "test samples": o.TestSamples} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.Newf(errors.CodeConfig, "%s must be a non-negative number, got %v", name, v)
		}
	}
	if s := o.TestLongrunShare; s != nil && !(*s > 0 && *s < 1) {
		return errors.Newf(errors.CodeConfig, "test longrun share must be a fraction in (0, 1), got %v", *s)
	}
	return nil
}

// SplitConfig returns the splitter settings carried by the options.
func (o *Options) SplitConfig() SplitConfig {
	return SplitConfig{
		Seed:             o.Seed,
		ValSamples:       o.ValSamples,
		TestSamples:      o.TestSamples,
		TestLongrunShare: o.TestLongrunShare,
	}
}
