// Package msgpack stores labeled query collections as msgpack files.
package msgpack

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/M2oDA-Lab/roq/pkg/errors"
	"github.com/M2oDA-Lab/roq/pkg/models"
	"github.com/M2oDA-Lab/roq/pkg/repositories"
)

// rawRepository implements repositories.RawRepository on a directory of
// labeled_query_plans_<id>.msgpack files.
type rawRepository struct {
	dir    string
	logger zerolog.Logger
}

// NewRawRepository creates a raw repository rooted at dir.
func NewRawRepository(dir string, logger zerolog.Logger) repositories.RawRepository {
	return &rawRepository{
		dir:    dir,
		logger: logger.With().Str("component", "raw_repository").Logger(),
	}
}

func (r *rawRepository) path(filesID string) string {
	return filepath.Join(r.dir, models.RawFileName(filesID))
}

// Load reads the whole file and closes it before decoding.
func (r *rawRepository) Load(ctx context.Context, filesID string) ([]*models.QueryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := r.path(filesID)
	start := time.Now()

	data, err := readFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(err, errors.CodeNotFound, "raw file %s not found", path)
		}
		return nil, errors.Wrapf(err, errors.CodeIO, "failed to read raw file %s", path)
	}

	var records []*models.QueryRecord
	if err := msgpack.Unmarshal(data, &records); err != nil {
		return nil, errors.Wrapf(err, errors.CodeDecode, "failed to decode raw file %s", path)
	}
	for i, q := range records {
		if q == nil {
			return nil, errors.Newf(errors.CodeDecode, "raw file %s: record %d is empty", path, i)
		}
	}

	r.logger.Info().
		Str("path", path).
		Int("queries", len(records)).
		Int("bytes", len(data)).
		Dur("duration", time.Since(start)).
		Msg("Loaded raw queries")

	return records, nil
}

func readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// Save encodes records and replaces the file atomically.
func (r *rawRepository) Save(ctx context.Context, filesID string, records []*models.QueryRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := msgpack.Marshal(records)
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to encode raw queries")
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return errors.Wrapf(err, errors.CodeIO, "failed to create %s", r.dir)
	}

	path := r.path(filesID)
	pf, err := renameio.TempFile(r.dir, path)
	if err != nil {
		return errors.Wrap(err, errors.CodeIO, "failed to create temp file")
	}
	defer pf.Cleanup()

	if _, err := pf.Write(data); err != nil {
		return errors.Wrapf(err, errors.CodeIO, "failed to write %s", path)
	}
	if err := pf.Chmod(0o644); err != nil {
		return errors.Wrapf(err, errors.CodeIO, "failed to set mode on %s", path)
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return errors.Wrapf(err, errors.CodeIO, "failed to move raw file into %s", path)
	}

	r.logger.Debug().Str("path", path).Int("queries", len(records)).Msg("Saved raw queries")
	return nil
}
