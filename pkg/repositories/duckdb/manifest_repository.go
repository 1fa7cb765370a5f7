package duckdb

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/M2oDA-Lab/roq/pkg/errors"
	"github.com/M2oDA-Lab/roq/pkg/models"
	"github.com/M2oDA-Lab/roq/pkg/repositories"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		run_id VARCHAR PRIMARY KEY,
		files_id VARCHAR NOT NULL,
		seed BIGINT NOT NULL,
		num_samples INTEGER,
		val_samples DOUBLE NOT NULL,
		test_samples DOUBLE NOT NULL,
		test_longrun_share DOUBLE NOT NULL,
		total_samples INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS split_assignments (
		run_id VARCHAR NOT NULL,
		split VARCHAR NOT NULL,
		position INTEGER NOT NULL,
		query_id BIGINT NOT NULL
	)`,
}

var (
	runColumns = []string{
		"run_id", "files_id", "seed", "num_samples", "val_samples",
		"test_samples", "test_longrun_share", "total_samples", "created_at",
	}
	assignmentColumns = []string{"run_id", "split", "position", "query_id"}
)

// manifestRepository implements repositories.ManifestRepository for DuckDB.
type manifestRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewManifestRepository creates the manifest tables if needed. The
// repository owns db and closes it on Close.
func NewManifestRepository(ctx context.Context, db *sql.DB, logger zerolog.Logger) (repositories.ManifestRepository, error) {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, errors.Wrap(err, errors.CodeStorage, "failed to create manifest schema")
		}
	}
	return &manifestRepository{
		db:     db,
		logger: logger.With().Str("component", "manifest").Logger(),
	}, nil
}

// RecordRun stores the run and its assignment atomically.
func (r *manifestRepository) RecordRun(ctx context.Context, run *models.Run, assignment *models.Assignment) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.CodeStorage, "failed to begin manifest transaction")
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				r.logger.Error().Err(rbErr).Msg("Failed to roll back manifest transaction")
			}
		}
	}()

	runs, err := newBatchWriter(ctx, tx, "runs", runColumns)
	if err != nil {
		return err
	}
	defer runs.Close()

	var numSamples interface{}
	if run.NumSamples != nil {
		numSamples = *run.NumSamples
	}
	if err = runs.Write(ctx,
		run.RunID, run.FilesID, run.Seed, numSamples, run.ValSamples,
		run.TestSamples, run.TestLongrunShare, run.TotalSamples,
		run.CreatedAt.UTC().Truncate(time.Microsecond),
	); err != nil {
		return err
	}

	assignments, err := newBatchWriter(ctx, tx, "split_assignments", assignmentColumns)
	if err != nil {
		return err
	}
	defer assignments.Close()

	for _, split := range models.Splits {
		for pos, qid := range assignment.IDs(split) {
			if err = assignments.Write(ctx, run.RunID, string(split), pos, qid); err != nil {
				return err
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, errors.CodeStorage, "failed to commit manifest transaction")
	}

	r.logger.Info().
		Str("run_id", run.RunID).
		Str("files_id", run.FilesID).
		Int("assigned_queries", assignments.rows).
		Msg("Recorded run")
	return nil
}

// LatestRun returns the most recent run of filesID.
func (r *manifestRepository) LatestRun(ctx context.Context, filesID string) (*models.Run, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT run_id, files_id, seed, num_samples, val_samples, test_samples,
		       test_longrun_share, total_samples, created_at
		FROM runs
		WHERE files_id = ?
		ORDER BY created_at DESC, run_id DESC
		LIMIT 1`, filesID)

	var (
		run        models.Run
		numSamples sql.NullInt64
	)
	err := row.Scan(&run.RunID, &run.FilesID, &run.Seed, &numSamples, &run.ValSamples,
		&run.TestSamples, &run.TestLongrunShare, &run.TotalSamples, &run.CreatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.Newf(errors.CodeNotFound, "no run recorded for %s", filesID)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStorage, "failed to read latest run")
	}
	if numSamples.Valid {
		n := int(numSamples.Int64)
		run.NumSamples = &n
	}
	return &run, nil
}

// Assignment returns the stored query ids of every split, in stored order.
func (r *manifestRepository) Assignment(ctx context.Context, runID string) (*models.Assignment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT split, query_id
		FROM split_assignments
		WHERE run_id = ?
		ORDER BY split, position`, runID)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStorage, "failed to query assignment")
	}
	defer rows.Close()

	a := &models.Assignment{}
	found := false
	for rows.Next() {
		var (
			split string
			qid   int64
		)
		if err := rows.Scan(&split, &qid); err != nil {
			return nil, errors.Wrap(err, errors.CodeStorage, "failed to scan assignment")
		}
		found = true
		switch models.Split(split) {
		case models.SplitTrain:
			a.Train = append(a.Train, qid)
		case models.SplitVal:
			a.Val = append(a.Val, qid)
		case models.SplitTest:
			a.Test = append(a.Test, qid)
		default:
			return nil, errors.Newf(errors.CodeStorage, "unknown split %q in manifest", split)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeStorage, "failed to iterate assignment")
	}
	if !found {
		return nil, errors.Newf(errors.CodeNotFound, "no assignment recorded for run %s", runID)
	}
	return a, nil
}

// SplitCounts returns the number of queries per split of a run.
func (r *manifestRepository) SplitCounts(ctx context.Context, runID string) (map[models.Split]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT split, COUNT(*)
		FROM split_assignments
		WHERE run_id = ?
		GROUP BY split`, runID)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStorage, "failed to count assignment")
	}
	defer rows.Close()

	counts := make(map[models.Split]int, len(models.Splits))
	for _, split := range models.Splits {
		counts[split] = 0
	}
	for rows.Next() {
		var (
			split string
			n     int64
		)
		if err := rows.Scan(&split, &n); err != nil {
			return nil, errors.Wrap(err, errors.CodeStorage, "failed to scan split count")
		}
		counts[models.Split(split)] = int(n)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeStorage, "failed to iterate split counts")
	}
	return counts, nil
}

// Close closes the database.
func (r *manifestRepository) Close() error {
	return r.db.Close()
}
