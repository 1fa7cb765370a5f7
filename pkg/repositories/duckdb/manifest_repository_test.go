package duckdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/M2oDA-Lab/roq/pkg/errors"
	"github.com/M2oDA-Lab/roq/pkg/models"
	"github.com/M2oDA-Lab/roq/pkg/repositories"
)

func newManifest(t *testing.T, dsn string) repositories.ManifestRepository {
	t.Helper()
	ctx := context.Background()
	logger := zerolog.New(zerolog.NewTestWriter(t))

	db, err := Open(ctx, DefaultConfig(dsn), logger)
	require.NoError(t, err)
	repo, err := NewManifestRepository(ctx, db, logger)
	require.NoError(t, err)
	return repo
}

func testRun(id string, created time.Time) *models.Run {
	return &models.Run{
		RunID:            id,
		FilesID:          "job",
		Seed:             42,
		ValSamples:       0.1,
		TestSamples:      0.01,
		TestLongrunShare: 0.5,
		TotalSamples:     30,
		CreatedAt:        created,
	}
}

func TestInsertStmt(t *testing.T) {
	assert.Equal(t, "INSERT INTO t (a, b, c) VALUES (?, ?, ?)", insertStmt("t", []string{"a", "b", "c"}))
}

func TestManifestRepository_RecordAndRead(t *testing.T) {
	repo := newManifest(t, "")
	defer repo.Close()
	ctx := context.Background()

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assignment := &models.Assignment{
		Train: []int64{9, 3, 5, 1},
		Val:   []int64{7},
		Test:  []int64{2, 8},
	}
	require.NoError(t, repo.RecordRun(ctx, testRun("run-a", created), assignment))

	run, err := repo.LatestRun(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, "run-a", run.RunID)
	assert.Equal(t, int64(42), run.Seed)
	assert.Equal(t, 0.5, run.TestLongrunShare)
	assert.Equal(t, 30, run.TotalSamples)
	assert.Nil(t, run.NumSamples)
	assert.True(t, created.Equal(run.CreatedAt), "created_at %s", run.CreatedAt)

	got, err := repo.Assignment(ctx, "run-a")
	require.NoError(t, err)
	assert.Equal(t, assignment, got)

	counts, err := repo.SplitCounts(ctx, "run-a")
	require.NoError(t, err)
	assert.Equal(t, map[models.Split]int{
		models.SplitTrain: 4,
		models.SplitVal:   1,
		models.SplitTest:  2,
	}, counts)
}

func TestManifestRepository_LatestRunWins(t *testing.T) {
	repo := newManifest(t, "")
	defer repo.Close()
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	a := &models.Assignment{Train: []int64{1}, Val: []int64{2}, Test: []int64{3}}
	require.NoError(t, repo.RecordRun(ctx, testRun("old", base), a))
	latest := testRun("new", base.Add(time.Hour))
	numSamples := 25
	latest.NumSamples = &numSamples
	require.NoError(t, repo.RecordRun(ctx, latest, a))

	run, err := repo.LatestRun(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, "new", run.RunID)
	require.NotNil(t, run.NumSamples)
	assert.Equal(t, 25, *run.NumSamples)
}

func TestManifestRepository_DuplicateRunRollsBack(t *testing.T) {
	repo := newManifest(t, "")
	defer repo.Close()
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, repo.RecordRun(ctx, testRun("dup", now), &models.Assignment{Train: []int64{1}}))

	err := repo.RecordRun(ctx, testRun("dup", now), &models.Assignment{Train: []int64{5, 6}})
	require.Error(t, err)
	assert.Equal(t, errors.CodeStorage, errors.GetCode(err))

	counts, err := repo.SplitCounts(ctx, "dup")
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.SplitTrain])
}

func TestManifestRepository_NotFound(t *testing.T) {
	repo := newManifest(t, "")
	defer repo.Close()
	ctx := context.Background()

	_, err := repo.LatestRun(ctx, "unknown")
	assert.True(t, errors.IsNotFound(err))

	_, err = repo.Assignment(ctx, "unknown")
	assert.True(t, errors.IsNotFound(err))
}

func TestManifestRepository_PersistsToFile(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "manifest.duckdb")
	ctx := context.Background()

	repo := newManifest(t, dsn)
	require.NoError(t, repo.RecordRun(ctx, testRun("kept", time.Now()), &models.Assignment{Test: []int64{4}}))
	require.NoError(t, repo.Close())

	reopened := newManifest(t, dsn)
	defer reopened.Close()
	run, err := reopened.LatestRun(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, "kept", run.RunID)
}
