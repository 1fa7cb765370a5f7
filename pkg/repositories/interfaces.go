// Package repositories defines interfaces for dataset storage.
package repositories

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/M2oDA-Lab/roq/pkg/models"
)

// RawRepository reads and writes labeled query collections.
type RawRepository interface {
	// Load reads the whole collection identified by filesID.
	Load(ctx context.Context, filesID string) ([]*models.QueryRecord, error)
	// Save writes a collection under filesID, replacing any existing one.
	Save(ctx context.Context, filesID string, records []*models.QueryRecord) error
}

// ArtifactRepository stores processed sample collections.
type ArtifactRepository interface {
	// Save writes samples under name atomically.
	Save(ctx context.Context, name string, meta *models.ArtifactMeta, samples []*models.Sample) error
	// Load decodes the artifact stored under name.
	Load(ctx context.Context, name string) (*models.ArtifactMeta, []*models.Sample, error)
	// LoadRecords returns the raw record batches of an artifact. The caller
	// releases them.
	LoadRecords(ctx context.Context, name string) (*arrow.Schema, []arrow.Record, error)
	// Exists reports whether every named artifact is present.
	Exists(ctx context.Context, names ...string) (bool, error)
}

// ManifestRepository records processing runs and their query assignment.
type ManifestRepository interface {
	// RecordRun stores a run and the query ids of every split in one
	// transaction.
	RecordRun(ctx context.Context, run *models.Run, assignment *models.Assignment) error
	// LatestRun returns the most recent run for filesID.
	LatestRun(ctx context.Context, filesID string) (*models.Run, error)
	// Assignment returns the query ids of every split of a run.
	Assignment(ctx context.Context, runID string) (*models.Assignment, error)
	// SplitCounts returns the number of queries per split of a run.
	SplitCounts(ctx context.Context, runID string) (map[models.Split]int, error)
	// Close releases the underlying database.
	Close() error
}
