package dataset

import (
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/M2oDA-Lab/roq/pkg/errors"
	"github.com/M2oDA-Lab/roq/pkg/linearize"
	"github.com/M2oDA-Lab/roq/pkg/models"
)

func newTestBuilder() *Builder {
	return NewBuilder(linearize.NewTreeConv(nil), zerolog.Nop())
}

func TestBuilder_TimedOutLatencyImputation(t *testing.T) {
	queries := []*models.QueryRecord{
		query(1, map[int]*models.PlanRecord{
			0: plan(0, ptr(2.5), []float64{10}, false, 1),
			1: plan(3, ptr(300), []float64{11}, true, 2),
			2: plan(5, ptr(4), []float64{12}, false, 3),
		}),
	}

	res, err := newTestBuilder().Build(queries)
	require.NoError(t, err)
	require.Len(t, res.Samples, 3)

	assert.Equal(t, 2.5, res.Samples[0].Latency)
	assert.True(t, res.Samples[0].OptChoice)
	assert.Equal(t, 5*2.5, res.Samples[1].Latency)
	assert.Equal(t, 5*2.5, res.Samples[1].LatencyT)
	assert.False(t, res.Samples[1].OptChoice)
	assert.Equal(t, 4.0, res.Samples[2].Latency)
	assert.Equal(t, 12.0, res.Samples[2].OptCost)
}

func TestBuilder_OptimizerPlanVisitedFirst(t *testing.T) {
	// The optimizer plan sits under the largest key but must still be seen
	// before the timed-out plan.
	queries := []*models.QueryRecord{
		query(1, map[int]*models.PlanRecord{
			0: plan(2, ptr(90), []float64{1}, true, 10),
			7: plan(0, ptr(3), []float64{2}, false, 20),
		}),
	}

	res, err := newTestBuilder().Build(queries)
	require.NoError(t, err)
	require.Len(t, res.Samples, 2)

	assert.True(t, res.Samples[0].OptChoice)
	assert.Equal(t, []float32{0, 20}, res.Samples[0].PlanAttr[0])
	assert.Equal(t, 15.0, res.Samples[1].Latency)
	assert.Equal(t, []float32{0, 10}, res.Samples[1].PlanAttr[0])
}

func TestBuilder_MissingOptimizerLatencySkipsWholeQuery(t *testing.T) {
	queries := []*models.QueryRecord{
		query(1, map[int]*models.PlanRecord{
			0: plan(0, nil, []float64{10}, false, 1),
			1: plan(3, ptr(5), []float64{11}, false, 2),
			2: plan(5, ptr(6), []float64{12}, false, 3),
		}),
		query(2, map[int]*models.PlanRecord{
			0: plan(0, ptr(1), []float64{10}, false, 4),
			1: plan(3, ptr(2), []float64{11}, false, 5),
		}),
	}

	res, err := newTestBuilder().Build(queries)
	require.NoError(t, err)
	require.Len(t, res.Samples, 2)

	for _, s := range res.Samples {
		assert.Equal(t, int64(2), s.QueryID)
	}
	// Tree linearizations stay aligned with the plans that survived.
	assert.Equal(t, []float32{0, 4}, res.Samples[0].PlanAttr[0])
	assert.Equal(t, []float32{0, 5}, res.Samples[1].PlanAttr[0])

	assert.Equal(t, 1, res.Stats.TruncatedQueries)
	assert.Equal(t, 3, res.Stats.SkippedPlans)
	assert.Equal(t, 2, res.Stats.AcceptedPlans)
}

func TestBuilder_DisqualifiedPlanDropsRemainingPlans(t *testing.T) {
	queries := []*models.QueryRecord{
		query(1, map[int]*models.PlanRecord{
			0: plan(0, ptr(1), []float64{10}, false, 1),
			1: plan(3, ptr(2), nil, false, 2),
			2: plan(5, ptr(3), []float64{12}, false, 3),
		}),
	}

	res, err := newTestBuilder().Build(queries)
	require.NoError(t, err)
	require.Len(t, res.Samples, 1)
	assert.True(t, res.Samples[0].OptChoice)
	assert.Equal(t, 2, res.Stats.SkippedPlans)
}

func TestBuilder_TimedOutWithoutOptimizerPlan(t *testing.T) {
	queries := []*models.QueryRecord{
		query(1, map[int]*models.PlanRecord{
			0: plan(3, ptr(1), []float64{10}, false, 1),
			1: plan(4, ptr(2), []float64{11}, true, 2),
		}),
	}

	_, err := newTestBuilder().Build(queries)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMissingOptimizerPlan)
}

func TestBuilder_NoOptimizerPlanWithoutTimeouts(t *testing.T) {
	queries := []*models.QueryRecord{
		query(1, map[int]*models.PlanRecord{
			0: plan(3, ptr(1), []float64{10}, false, 1),
			1: plan(4, ptr(2), []float64{11}, false, 2),
		}),
	}

	res, err := newTestBuilder().Build(queries)
	require.NoError(t, err)
	require.Len(t, res.Samples, 2)
	assert.False(t, res.Samples[0].OptChoice)
	assert.False(t, res.Samples[1].OptChoice)
}

func TestBuilder_NonScalarCost(t *testing.T) {
	queries := []*models.QueryRecord{
		query(1, map[int]*models.PlanRecord{
			0: plan(0, ptr(1), []float64{10, 11}, false, 1),
		}),
	}

	_, err := newTestBuilder().Build(queries)
	require.Error(t, err)
	assert.Equal(t, errors.CodeDecode, errors.GetCode(err))
}

func TestBuilder_NonFiniteLatency(t *testing.T) {
	for name, lat := range map[string]float64{"NaN": math.NaN(), "Inf": math.Inf(1)} {
		t.Run(name, func(t *testing.T) {
			queries := syntheticQueries(3)
			queries[1].Plans[0].Latency = ptr(lat)

			_, err := newTestBuilder().Build(queries)
			require.Error(t, err)
			assert.Equal(t, errors.CodeDecode, errors.GetCode(err))
			assert.Contains(t, err.Error(), "non-finite latency")
		})
	}
}

func TestBuilder_SampleFields(t *testing.T) {
	q := query(42, map[int]*models.PlanRecord{
		0: plan(0, ptr(1), []float64{10}, false, 1),
	})

	res, err := newTestBuilder().Build([]*models.QueryRecord{q})
	require.NoError(t, err)
	require.Len(t, res.Samples, 1)

	s := res.Samples[0]
	assert.Equal(t, int64(42), s.QueryID)
	assert.Equal(t, int64(1), s.NumJoins)
	assert.Equal(t, int64(2), s.NumNodes)
	assert.Equal(t, q.NodeAttr, s.NodeAttr)
	assert.Equal(t, []int64{1, 0, 0}, s.PlanOrder)

	// Samples own their tensors.
	s.NodeAttr[0][0] = 99
	assert.Equal(t, float32(1), q.NodeAttr[0][0])
}

func TestBuilder_Hooks(t *testing.T) {
	b := newTestBuilder().WithHooks(
		func(s *models.Sample) bool { return !s.OptChoice },
		func(s *models.Sample) *models.Sample {
			c := s.Clone()
			c.LatencyT = s.Latency * 1000
			return c
		},
	)

	res, err := b.Build(syntheticQueries(4))
	require.NoError(t, err)
	require.Len(t, res.Samples, 8)
	assert.Equal(t, 4, res.Stats.Filtered)
	for _, s := range res.Samples {
		assert.False(t, s.OptChoice)
		assert.Equal(t, s.Latency*1000, s.LatencyT)
	}
}

func TestBuilder_PreTransformMustReturnSample(t *testing.T) {
	b := newTestBuilder().WithHooks(nil, func(s *models.Sample) *models.Sample {
		if s.QueryID == 1001 {
			return nil
		}
		return s
	})

	_, err := b.Build(syntheticQueries(3))
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidArgument, errors.GetCode(err))
	assert.Contains(t, err.Error(), "query 1001")
}

type failingLinearizer struct{}

func (failingLinearizer) Prepare([]*models.PlanNode) (*linearize.Prepared, error) {
	return nil, errors.New(errors.CodeLinearize, "boom")
}

func TestBuilder_LinearizerFailure(t *testing.T) {
	b := NewBuilder(failingLinearizer{}, zerolog.Nop())
	_, err := b.Build(syntheticQueries(1))
	require.Error(t, err)
	assert.Equal(t, errors.CodeLinearize, errors.GetCode(err))
}
