// Package arrowipc stores processed sample collections as Arrow IPC files.
package arrowipc

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/M2oDA-Lab/roq/pkg/errors"
	"github.com/M2oDA-Lab/roq/pkg/infrastructure/converter"
	"github.com/M2oDA-Lab/roq/pkg/models"
	"github.com/M2oDA-Lab/roq/pkg/repositories"
)

// Extension is the file extension of a stored artifact.
const Extension = ".arrow"

// artifactRepository implements repositories.ArtifactRepository.
type artifactRepository struct {
	dir       string
	allocator memory.Allocator
	converter *converter.SampleConverter
	logger    zerolog.Logger
}

// NewArtifactRepository creates a repository writing to dir, typically
// <root>/processed.
func NewArtifactRepository(dir string, allocator memory.Allocator, conv *converter.SampleConverter, logger zerolog.Logger) repositories.ArtifactRepository {
	return &artifactRepository{
		dir:       dir,
		allocator: allocator,
		converter: conv,
		logger:    logger.With().Str("component", "artifact_repository").Logger(),
	}
}

// Path returns the file an artifact name maps to.
func Path(dir, name string) string {
	return filepath.Join(dir, name+Extension)
}

// Save writes the samples to a pending file next to the target and swaps it
// into place, so a reader never observes a partial artifact.
func (r *artifactRepository) Save(ctx context.Context, name string, meta *models.ArtifactMeta, samples []*models.Sample) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return errors.Wrapf(err, errors.CodeIO, "failed to create %s", r.dir)
	}

	start := time.Now()
	schema, records := r.converter.ToRecords(samples, meta)
	defer func() {
		for _, rec := range records {
			rec.Release()
		}
	}()

	path := Path(r.dir, name)
	pf, err := renameio.TempFile(r.dir, path)
	if err != nil {
		return errors.Wrap(err, errors.CodeIO, "failed to create temp file")
	}
	defer pf.Cleanup()

	w, err := ipc.NewFileWriter(pf, ipc.WithSchema(schema), ipc.WithAllocator(r.allocator))
	if err != nil {
		return errors.Wrap(err, errors.CodeIO, "failed to create ipc writer")
	}
	for _, rec := range records {
		if err := w.Write(rec); err != nil {
			w.Close()
			return errors.Wrapf(err, errors.CodeIO, "failed to write artifact %s", name)
		}
	}
	if err := w.Close(); err != nil {
		return errors.Wrapf(err, errors.CodeIO, "failed to finish artifact %s", name)
	}
	if err := pf.Chmod(0o644); err != nil {
		return errors.Wrapf(err, errors.CodeIO, "failed to set mode on artifact %s", name)
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return errors.Wrapf(err, errors.CodeIO, "failed to move artifact into %s", path)
	}

	r.logger.Info().
		Str("artifact", name).
		Int("samples", len(samples)).
		Int("batches", len(records)).
		Dur("duration", time.Since(start)).
		Msg("Saved artifact")
	return nil
}

// LoadRecords reads every record batch of an artifact.
func (r *artifactRepository) LoadRecords(ctx context.Context, name string) (*arrow.Schema, []arrow.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	path := Path(r.dir, name)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, errors.Wrapf(errors.ErrArtifactNotFound, errors.CodeNotFound, "artifact %s", path)
		}
		return nil, nil, errors.Wrapf(err, errors.CodeIO, "failed to open artifact %s", path)
	}
	defer f.Close()

	reader, err := ipc.NewFileReader(f, ipc.WithAllocator(r.allocator))
	if err != nil {
		return nil, nil, errors.Wrapf(err, errors.CodeDecode, "failed to read artifact %s", path)
	}
	defer reader.Close()

	records := make([]arrow.Record, 0, reader.NumRecords())
	for i := 0; i < reader.NumRecords(); i++ {
		rec, err := reader.Record(i)
		if err != nil {
			for _, kept := range records {
				kept.Release()
			}
			return nil, nil, errors.Wrapf(err, errors.CodeDecode, "failed to read batch %d of %s", i, path)
		}
		rec.Retain()
		records = append(records, rec)
	}
	return reader.Schema(), records, nil
}

// Load decodes an artifact into samples.
func (r *artifactRepository) Load(ctx context.Context, name string) (*models.ArtifactMeta, []*models.Sample, error) {
	start := time.Now()
	schema, records, err := r.LoadRecords(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		for _, rec := range records {
			rec.Release()
		}
	}()

	meta := models.ArtifactMetaFromSchema(schema)
	samples := make([]*models.Sample, 0, meta.SampleCount)
	for _, rec := range records {
		batch, err := r.converter.FromRecord(rec)
		if err != nil {
			return nil, nil, errors.Wrapf(err, errors.CodeDecode, "failed to decode artifact %s", name)
		}
		samples = append(samples, batch...)
	}
	if meta.SampleCount != len(samples) {
		return nil, nil, errors.Newf(errors.CodeDecode,
			"artifact %s holds %d samples, metadata records %d", name, len(samples), meta.SampleCount)
	}

	r.logger.Debug().
		Str("artifact", name).
		Int("samples", len(samples)).
		Dur("duration", time.Since(start)).
		Msg("Loaded artifact")
	return meta, samples, nil
}

// Exists reports whether every named artifact is present.
func (r *artifactRepository) Exists(ctx context.Context, names ...string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	for _, name := range names {
		info, err := os.Stat(Path(r.dir, name))
		if os.IsNotExist(err) {
			return false, nil
		}
		if err != nil {
			return false, errors.Wrapf(err, errors.CodeIO, "failed to stat artifact %s", name)
		}
		if info.IsDir() {
			return false, errors.Newf(errors.CodeIO, "artifact %s is a directory", name)
		}
	}
	return true, nil
}
