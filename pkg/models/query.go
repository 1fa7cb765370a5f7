// Package models provides data structures used throughout the dataset pipeline.
package models

import "sort"

// OptimizerHintset identifies the plan the optimizer picks without hints.
const OptimizerHintset = 0

// TimeoutLatencyFactor scales the optimizer latency to impute the latency of
// a timed-out plan.
const TimeoutLatencyFactor = 5.0

// QueryRecord is one labeled query: its graph features and the candidate
// execution plans that were measured for it.
type QueryRecord struct {
	QueryID   int64               `msgpack:"q_id" json:"q_id"`
	NodeAttr  [][]float32         `msgpack:"node_attr" json:"node_attr"`
	EdgeIndex [][]int64           `msgpack:"edge_indc" json:"edge_indc"`
	EdgeAttr  [][]float32         `msgpack:"edge_attr" json:"edge_attr"`
	GraphAttr []float32           `msgpack:"graph_attr" json:"graph_attr"`
	Plans     map[int]*PlanRecord `msgpack:"plans" json:"plans"`
}

// PlanRecord is one candidate execution plan of a query.
type PlanRecord struct {
	HintsetID int       `msgpack:"hintset_id" json:"hintset_id"`
	Cost      []float64 `msgpack:"cost" json:"cost"`
	Latency   *float64  `msgpack:"latency" json:"latency"`
	TimedOut  bool      `msgpack:"timed_out" json:"timed_out"`
	PlanTree  *PlanNode `msgpack:"plan_tree" json:"plan_tree"`
}

// PlanNode is a node of a plan tree. Attrs holds the per-node operator
// features; the node is otherwise opaque to the pipeline.
type PlanNode struct {
	Operator string      `msgpack:"operator" json:"operator"`
	Attrs    []float32   `msgpack:"attrs" json:"attrs"`
	Children []*PlanNode `msgpack:"children" json:"children"`
}

// IsOptimizerPlan reports whether the plan is the optimizer's own choice.
func (p *PlanRecord) IsOptimizerPlan() bool {
	return p.HintsetID == OptimizerHintset
}

// Qualified reports whether the plan carries both a latency and a cost.
func (p *PlanRecord) Qualified() bool {
	return p.Latency != nil && len(p.Cost) > 0
}

// OrderedPlanKeys returns the plan keys in processing order: the
// optimizer-default plan first, then every other plan by ascending key.
func (q *QueryRecord) OrderedPlanKeys() []int {
	keys := make([]int, 0, len(q.Plans))
	for k := range q.Plans {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	for i, k := range keys {
		p := q.Plans[k]
		if p != nil && p.IsOptimizerPlan() {
			copy(keys[1:i+1], keys[:i])
			keys[0] = k
			break
		}
	}
	return keys
}

// NumJoins returns the number of joins encoded by the query graph. Edges are
// stored in both directions.
func (q *QueryRecord) NumJoins() int64 {
	if len(q.EdgeIndex) < 2 {
		return 0
	}
	return int64(len(q.EdgeIndex[1]) / 2)
}
