package dataset

import (
	"github.com/M2oDA-Lab/roq/pkg/models"
)

// Mask returns, for every sample, whether its query id belongs to ids.
func Mask(samples []*models.Sample, ids []int64) []bool {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}

	mask := make([]bool, len(samples))
	for i, s := range samples {
		_, mask[i] = set[s.QueryID]
	}
	return mask
}

// Compress keeps the samples selected by mask, preserving order.
func Compress(samples []*models.Sample, mask []bool) []*models.Sample {
	out := make([]*models.Sample, 0)
	for i, s := range samples {
		if i < len(mask) && mask[i] {
			out = append(out, s)
		}
	}
	return out
}

// Partition applies a query-id assignment to the full sample list. Every split
// receives its own copies so no sample is shared between splits.
func Partition(samples []*models.Sample, a *models.Assignment) map[models.Split][]*models.Sample {
	out := make(map[models.Split][]*models.Sample, len(models.Splits))
	for _, split := range models.Splits {
		selected := Compress(samples, Mask(samples, a.IDs(split)))
		for i, s := range selected {
			selected[i] = s.Clone()
		}
		out[split] = selected
	}
	return out
}
