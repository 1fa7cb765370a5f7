package dataset

import (
	"github.com/M2oDA-Lab/roq/pkg/models"
)

func ptr(v float64) *float64 { return &v }

// leaf returns a one-node plan tree whose single feature identifies the plan.
func leaf(tag float32) *models.PlanNode {
	return &models.PlanNode{Operator: "scan", Attrs: []float32{tag}}
}

func plan(hintset int, lat *float64, cost []float64, timedOut bool, tag float32) *models.PlanRecord {
	return &models.PlanRecord{
		HintsetID: hintset,
		Cost:      cost,
		Latency:   lat,
		TimedOut:  timedOut,
		PlanTree:  leaf(tag),
	}
}

func query(id int64, plans map[int]*models.PlanRecord) *models.QueryRecord {
	return &models.QueryRecord{
		QueryID:   id,
		NodeAttr:  [][]float32{{1, 0}, {0, 1}},
		EdgeIndex: [][]int64{{0, 1}, {1, 0}},
		EdgeAttr:  [][]float32{{0.5}, {0.5}},
		GraphAttr: []float32{float32(id)},
		Plans:     plans,
	}
}

// syntheticQueries builds n queries with three plans each. The optimizer
// plan latency grows with the query id so every query has a distinct one.
func syntheticQueries(n int) []*models.QueryRecord {
	out := make([]*models.QueryRecord, n)
	for i := 0; i < n; i++ {
		id := int64(1000 + i)
		opt := 1.0 + float64(i)*0.37
		out[i] = query(id, map[int]*models.PlanRecord{
			0: plan(0, ptr(opt), []float64{opt * 10}, false, float32(3*i)),
			1: plan(4, ptr(opt*1.5), []float64{opt * 12}, false, float32(3*i+1)),
			2: plan(9, ptr(opt*7), []float64{opt * 9}, i%4 == 0, float32(3*i+2)),
		})
	}
	return out
}
