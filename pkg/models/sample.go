package models

// Sample is one materialized training example built from a (query, plan)
// pair. Samples are never mutated after the builder emits them.
type Sample struct {
	QueryID   int64
	NodeAttr  [][]float32
	EdgeIndex [][]int64
	EdgeAttr  [][]float32
	GraphAttr []float32

	// PlanAttr is the linearized plan tree, features × node slots.
	PlanAttr [][]float32
	// PlanOrder holds the flattened [self, left, right] slot triples.
	PlanOrder []int64

	Latency float64
	// LatencyT is a placeholder for transformed targets.
	LatencyT  float64
	OptChoice bool
	OptCost   float64
	NumJoins  int64
	NumNodes  int64
}

// Clone returns a deep copy of the sample.
func (s *Sample) Clone() *Sample {
	c := *s
	c.NodeAttr = cloneMatrix(s.NodeAttr)
	c.EdgeIndex = cloneMatrix(s.EdgeIndex)
	c.EdgeAttr = cloneMatrix(s.EdgeAttr)
	c.GraphAttr = append([]float32(nil), s.GraphAttr...)
	c.PlanAttr = cloneMatrix(s.PlanAttr)
	c.PlanOrder = append([]int64(nil), s.PlanOrder...)
	return &c
}

func cloneMatrix[T any](m [][]T) [][]T {
	if m == nil {
		return nil
	}
	out := make([][]T, len(m))
	for i, row := range m {
		out[i] = append([]T(nil), row...)
	}
	return out
}
