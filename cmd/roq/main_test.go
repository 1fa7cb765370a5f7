package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/M2oDA-Lab/roq/pkg/models"
	"github.com/M2oDA-Lab/roq/pkg/repositories/msgpack"
)

func ptr(v float64) *float64 { return &v }

func leaf(tag float32) *models.PlanNode {
	return &models.PlanNode{Operator: "scan", Attrs: []float32{tag, 1}}
}

// labeledQueries returns n queries with three accepted plans each.
func labeledQueries(n int) []*models.QueryRecord {
	out := make([]*models.QueryRecord, n)
	for i := range out {
		opt := 2.0 + float64(i)*0.5
		out[i] = &models.QueryRecord{
			QueryID:   int64(i + 1),
			NodeAttr:  [][]float32{{1}, {2}, {3}},
			EdgeIndex: [][]int64{{0, 1, 1, 2}, {1, 0, 2, 1}},
			EdgeAttr:  [][]float32{{1}, {1}, {1}, {1}},
			GraphAttr: []float32{float32(i)},
			Plans: map[int]*models.PlanRecord{
				0: {HintsetID: 0, Cost: []float64{opt * 3}, Latency: ptr(opt), PlanTree: &models.PlanNode{
					Operator: "join", Attrs: []float32{0, 2},
					Children: []*models.PlanNode{leaf(1), leaf(2)},
				}},
				3: {HintsetID: 3, Cost: []float64{opt * 2}, Latency: ptr(opt * 2), PlanTree: leaf(3)},
				8: {HintsetID: 8, Cost: []float64{opt}, Latency: ptr(60), TimedOut: i%5 == 0, PlanTree: leaf(4)},
			},
		}
	}
	return out
}

type workspace struct {
	root    string
	labeled string
}

func newWorkspace(t *testing.T, queries int) *workspace {
	t.Helper()
	root := t.TempDir()
	labeled := filepath.Join(root, "labeled_data")
	raw := msgpack.NewRawRepository(labeled, zerolog.Nop())
	require.NoError(t, raw.Save(context.Background(), "job", labeledQueries(queries)))
	return &workspace{root: root, labeled: labeled}
}

func (w *workspace) args(args ...string) []string {
	return append(args, "--root", w.root, "--labeled-data-dir", w.labeled, "--log-level", "error")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestProcessInspectLoad(t *testing.T) {
	w := newWorkspace(t, 300)

	out, err := execute(t, w.args("process", "--files-id", "job", "--val-samples", "0.1", "--test-samples", "0.1")...)
	require.NoError(t, err)
	assert.Contains(t, out, "900 samples from 300 queries")
	assert.Contains(t, out, "train samples=720 queries=240")
	assert.Contains(t, out, "val   samples=90 queries=30")
	assert.Contains(t, out, "test  samples=90 queries=30")
	assert.Contains(t, out, "long-running queries=3")

	for _, name := range []string{"proc_data_job_tr.arrow", "proc_data_job_val.arrow", "proc_data_job_ts.arrow", "manifest.duckdb"} {
		assert.FileExists(t, filepath.Join(w.root, "processed", name))
	}

	out, err = execute(t, w.args("inspect", "--files-id", "job")...)
	require.NoError(t, err)
	assert.Contains(t, out, "train queries=240")
	assert.Contains(t, out, "val   queries=30")
	assert.Contains(t, out, "test  queries=30")
	assert.Contains(t, out, "total_samples=900")
	assert.Contains(t, out, "num_samples=all")

	out, err = execute(t, w.args("load", "--files-id", "job", "--split", "val")...)
	require.NoError(t, err)
	assert.Contains(t, out, "job/val: 90 samples, 30 queries")
}

func TestLoad_UnknownSplit(t *testing.T) {
	w := newWorkspace(t, 10)

	_, err := execute(t, w.args("load", "--files-id", "job", "--split", "holdout")...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected either 'train', 'val', or 'test'")
	_, statErr := os.Stat(filepath.Join(w.root, "processed", "proc_data_job_tr.arrow"))
	assert.True(t, os.IsNotExist(statErr), "nothing is processed for an unknown split")
}

func TestProcess_NoSplit(t *testing.T) {
	w := newWorkspace(t, 20)

	out, err := execute(t, w.args("process", "--files-id", "job", "--no-split", "--no-manifest")...)
	require.NoError(t, err)
	assert.Contains(t, out, "all   samples=60 queries=20")
	assert.FileExists(t, filepath.Join(w.root, "processed", "proc_data_job.arrow"))
	assert.NoFileExists(t, filepath.Join(w.root, "processed", "manifest.duckdb"))

	out, err = execute(t, w.args("load", "--files-id", "job", "--split", "all", "--no-manifest")...)
	require.NoError(t, err)
	assert.Contains(t, out, "job/all: 60 samples, 20 queries")
}

func TestInspect_WithoutManifest(t *testing.T) {
	w := newWorkspace(t, 10)
	_, err := execute(t, w.args("inspect", "--files-id", "job", "--no-manifest")...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no manifest configured")
}

func TestProcess_MissingFilesID(t *testing.T) {
	w := newWorkspace(t, 10)
	_, err := execute(t, w.args("process")...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "files id is required")
}

func TestProcess_SubsampleTooLarge(t *testing.T) {
	w := newWorkspace(t, 10)
	_, err := execute(t, w.args("process", "--files-id", "job", "--num-samples", "11")...)
	require.Error(t, err)
}

func TestProcess_MissingRawFile(t *testing.T) {
	w := newWorkspace(t, 10)
	_, err := execute(t, w.args("process", "--files-id", "other")...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "process failed")
}

func TestLoadConfig_EnvironmentAndFile(t *testing.T) {
	w := newWorkspace(t, 300)
	t.Setenv("ROQ_FILES_ID", "job")
	t.Setenv("ROQ_TEST_SAMPLES", "0.1")

	path := filepath.Join(w.root, "roq.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dataset:\n  val_samples: 0.1\n  files_id: ignored\n"), 0o644))

	out, err := execute(t, w.args("process", "--config", path)...)
	require.NoError(t, err)
	assert.Contains(t, out, "train samples=720 queries=240", "env overrides the file, the file overrides defaults")
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version:    dev")
}

func TestSetupLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogging("warn", &buf)
	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"service":"roq"`)

	assert.Equal(t, zerolog.DebugLevel, setupLogging("debug", &buf).GetLevel())
	assert.Equal(t, zerolog.InfoLevel, setupLogging("verbose", &buf).GetLevel())
}
