package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/M2oDA-Lab/roq/pkg/errors"
)

func latency(v float64) *float64 { return &v }

func TestOrderedPlanKeys(t *testing.T) {
	tests := []struct {
		name     string
		plans    map[int]*PlanRecord
		expected []int
	}{
		{
			name: "optimizer plan already first",
			plans: map[int]*PlanRecord{
				0: {HintsetID: 0},
				1: {HintsetID: 3},
				2: {HintsetID: 7},
			},
			expected: []int{0, 1, 2},
		},
		{
			name: "optimizer plan moved to front",
			plans: map[int]*PlanRecord{
				4: {HintsetID: 2},
				9: {HintsetID: 0},
				1: {HintsetID: 5},
			},
			expected: []int{9, 1, 4},
		},
		{
			name: "no optimizer plan",
			plans: map[int]*PlanRecord{
				3: {HintsetID: 2},
				1: {HintsetID: 5},
			},
			expected: []int{1, 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &QueryRecord{Plans: tt.plans}
			assert.Equal(t, tt.expected, q.OrderedPlanKeys())
		})
	}
}

func TestPlanRecord_Qualified(t *testing.T) {
	assert.True(t, (&PlanRecord{Latency: latency(1), Cost: []float64{3}}).Qualified())
	assert.False(t, (&PlanRecord{Cost: []float64{3}}).Qualified())
	assert.False(t, (&PlanRecord{Latency: latency(1)}).Qualified())
}

func TestQueryRecord_NumJoins(t *testing.T) {
	q := &QueryRecord{EdgeIndex: [][]int64{{0, 1, 1, 2}, {1, 0, 2, 1}}}
	assert.Equal(t, int64(2), q.NumJoins())
	assert.Equal(t, int64(0), (&QueryRecord{}).NumJoins())
}

func TestParseSplit(t *testing.T) {
	for _, name := range []string{"train", "val", "test"} {
		s, err := ParseSplit(name)
		require.NoError(t, err)
		assert.Equal(t, Split(name), s)
	}

	_, err := ParseSplit("dev")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidSplit)
	assert.Contains(t, err.Error(), "'train', 'val', or 'test'")
}

func TestArtifactNames(t *testing.T) {
	assert.Equal(t, "labeled_query_plans_job.msgpack", RawFileName("job"))
	assert.Equal(t, "proc_data_job_tr", ArtifactName("job", SplitTrain))
	assert.Equal(t, "proc_data_job_val", ArtifactName("job", SplitVal))
	assert.Equal(t, "proc_data_job_ts", ArtifactName("job", SplitTest))
	assert.Equal(t, "proc_data_job", NoSplitArtifactName("job"))
}

func TestSampleSchemaMetadataRoundTrip(t *testing.T) {
	meta := &ArtifactMeta{FilesID: "job", Split: "val", RunID: "r1", Seed: 7, SampleCount: 42}
	schema := GetSampleSchema(meta)

	assert.Equal(t, 13, schema.NumFields())
	assert.Equal(t, meta, ArtifactMetaFromSchema(schema))
}

func TestSample_Clone(t *testing.T) {
	s := &Sample{QueryID: 1, NodeAttr: [][]float32{{1, 2}}, PlanOrder: []int64{1, 0, 0}}
	c := s.Clone()
	c.NodeAttr[0][0] = 9
	c.PlanOrder[0] = 5

	assert.Equal(t, float32(1), s.NodeAttr[0][0])
	assert.Equal(t, int64(1), s.PlanOrder[0])
}
