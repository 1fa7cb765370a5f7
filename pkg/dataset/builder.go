package dataset

import (
	"math"

	"github.com/rs/zerolog"

	"github.com/M2oDA-Lab/roq/pkg/errors"
	"github.com/M2oDA-Lab/roq/pkg/linearize"
	"github.com/M2oDA-Lab/roq/pkg/models"
)

// BuildStats summarizes one builder pass.
type BuildStats struct {
	Queries int
	// AcceptedPlans is the number of (query, plan) pairs turned into samples.
	AcceptedPlans int
	// SkippedPlans counts plans dropped because an earlier plan of the same
	// query was disqualified.
	SkippedPlans int
	// TruncatedQueries counts queries that hit a disqualified plan.
	TruncatedQueries int
	// Filtered counts samples removed by the pre-filter.
	Filtered int
}

// BuildResult holds the samples of one builder pass in emission order.
type BuildResult struct {
	Samples []*models.Sample
	Stats   BuildStats
}

// queryPlans is one query together with its accepted plans, in the order
// they are linearized and assembled.
type queryPlans struct {
	query *models.QueryRecord
	plans []*models.PlanRecord
}

// Builder expands query records into samples.
type Builder struct {
	linearizer   linearize.Linearizer
	preFilter    FilterFunc
	preTransform TransformFunc
	logger       zerolog.Logger
}

// NewBuilder creates a sample builder.
func NewBuilder(linearizer linearize.Linearizer, logger zerolog.Logger) *Builder {
	return &Builder{
		linearizer: linearizer,
		logger:     logger,
	}
}

// WithHooks sets the optional pre-filter and pre-transform hooks.
func (b *Builder) WithHooks(filter FilterFunc, transform TransformFunc) *Builder {
	b.preFilter = filter
	b.preTransform = transform
	return b
}

// planSequence fixes the (query, plan) order shared by the linearizer pass
// and the assembly pass. A plan without latency or cost ends its query: the
// plan and every later plan of the same query are dropped.
func planSequence(queries []*models.QueryRecord) ([]queryPlans, BuildStats) {
	stats := BuildStats{Queries: len(queries)}
	seq := make([]queryPlans, 0, len(queries))

	for _, q := range queries {
		qp := queryPlans{query: q}
		keys := q.OrderedPlanKeys()
		for i, k := range keys {
			plan := q.Plans[k]
			if plan == nil || !plan.Qualified() {
				// NOTE: drops the remaining plans of the query, not just this one.
				stats.TruncatedQueries++
				stats.SkippedPlans += len(keys) - i
				break
			}
			qp.plans = append(qp.plans, plan)
		}
		stats.AcceptedPlans += len(qp.plans)
		seq = append(seq, qp)
	}

	return seq, stats
}

// Build turns queries into samples. Latencies of timed-out plans are imputed
// as TimeoutLatencyFactor times the optimizer plan latency of the same query.
func (b *Builder) Build(queries []*models.QueryRecord) (*BuildResult, error) {
	seq, stats := planSequence(queries)

	trees := make([]*models.PlanNode, 0, stats.AcceptedPlans)
	for _, qp := range seq {
		for _, plan := range qp.plans {
			trees = append(trees, plan.PlanTree)
		}
	}

	prepared, err := b.linearizer.Prepare(trees)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeLinearize, "failed to linearize plan trees")
	}
	if prepared.Len() != len(trees) {
		return nil, errors.Newf(errors.CodeInternal,
			"linearizer returned %d trees for %d submitted", prepared.Len(), len(trees))
	}

	samples := make([]*models.Sample, 0, stats.AcceptedPlans)
	cursor := 0
	for _, qp := range seq {
		q := qp.query
		base := &models.Sample{
			QueryID:   q.QueryID,
			NodeAttr:  q.NodeAttr,
			EdgeIndex: q.EdgeIndex,
			EdgeAttr:  q.EdgeAttr,
			GraphAttr: q.GraphAttr,
			NumJoins:  q.NumJoins(),
			NumNodes:  int64(len(q.NodeAttr)),
		}

		var optLatency float64
		haveOpt := false
		for _, plan := range qp.plans {
			planLatency := *plan.Latency
			if math.IsNaN(planLatency) || math.IsInf(planLatency, 0) {
				return nil, errors.Newf(errors.CodeDecode,
					"query %d: plan %d has non-finite latency %v", q.QueryID, plan.HintsetID, planLatency)
			}
			optPlan := plan.IsOptimizerPlan()
			if optPlan {
				optLatency = planLatency
				haveOpt = true
			} else if plan.TimedOut {
				if !haveOpt {
					return nil, errors.Wrapf(errors.ErrMissingOptimizerPlan, errors.CodeMissingOptimizerPlan,
						"query %d has a timed-out plan but no optimizer-default plan", q.QueryID)
				}
				planLatency = models.TimeoutLatencyFactor * optLatency
			}

			if len(plan.Cost) != 1 {
				return nil, errors.Newf(errors.CodeDecode,
					"query %d: plan cost must be a single value, got %d", q.QueryID, len(plan.Cost))
			}

			s := base.Clone()
			s.PlanAttr = prepared.Attrs[cursor]
			s.PlanOrder = prepared.Orders[cursor]
			s.Latency = planLatency
			s.LatencyT = planLatency
			s.OptChoice = optPlan
			s.OptCost = plan.Cost[0]
			cursor++

			samples = append(samples, s)
		}
	}

	if b.preFilter != nil {
		kept := samples[:0]
		for _, s := range samples {
			if b.preFilter(s) {
				kept = append(kept, s)
			}
		}
		stats.Filtered = len(samples) - len(kept)
		samples = kept
	}

	if b.preTransform != nil {
		for i, s := range samples {
			out := b.preTransform(s)
			if out == nil {
				return nil, errors.Newf(errors.CodeInvalidArgument,
					"pre-transform returned no sample for query %d", s.QueryID)
			}
			samples[i] = out
		}
	}

	b.logger.Debug().
		Int("queries", stats.Queries).
		Int("accepted_plans", stats.AcceptedPlans).
		Int("skipped_plans", stats.SkippedPlans).
		Int("truncated_queries", stats.TruncatedQueries).
		Int("filtered", stats.Filtered).
		Msg("Samples built")

	return &BuildResult{Samples: samples, Stats: stats}, nil
}
