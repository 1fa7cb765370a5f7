package dataset

import (
	"github.com/M2oDA-Lab/roq/pkg/errors"
	"github.com/M2oDA-Lab/roq/pkg/models"
)

// Subsample draws *num distinct queries uniformly without replacement, in
// draw order. The draw depends only on seed and len(records). A nil num keeps
// every query.
func Subsample(records []*models.QueryRecord, num *int, seed int64) ([]*models.QueryRecord, error) {
	if num == nil {
		return records, nil
	}
	n := *num
	if n < 0 || n > len(records) {
		return nil, errors.Newf(errors.CodeConfig,
			"cannot take a sample of %d queries from a collection of %d", n, len(records)).
			WithDetail("num_samples", n)
	}

	perm := NewSplitRand(seed).Perm(len(records))
	out := make([]*models.QueryRecord, n)
	for i, idx := range perm[:n] {
		out[i] = records[idx]
	}
	return out, nil
}
