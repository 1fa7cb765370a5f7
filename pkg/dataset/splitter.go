package dataset

import (
	"math"
	"math/rand/v2"
	"slices"

	"github.com/M2oDA-Lab/roq/pkg/errors"
	"github.com/M2oDA-Lab/roq/pkg/models"
)

// SplitConfig configures the stratified splitter.
type SplitConfig struct {
	Seed             int64
	ValSamples       float64
	TestSamples      float64
	TestLongrunShare *float64
}

// SplitInput holds one entry per sample, not deduplicated.
type SplitInput struct {
	QueryIDs  []int64
	Latencies []float64
	OptChoice []bool
}

// SplitInputFromSamples derives the splitter input from built samples.
func SplitInputFromSamples(samples []*models.Sample) SplitInput {
	in := SplitInput{
		QueryIDs:  make([]int64, len(samples)),
		Latencies: make([]float64, len(samples)),
		OptChoice: make([]bool, len(samples)),
	}
	for i, s := range samples {
		in.QueryIDs[i] = s.QueryID
		in.Latencies[i] = s.Latency
		in.OptChoice[i] = s.OptChoice
	}
	return in
}

// SplitStats describes how a split was drawn.
type SplitStats struct {
	UniqueQueries     int
	TestSamples       int
	ValSamples        int
	TestLongrunShare  float64
	LongRunThreshold  float64
	LongRunning       int
	TestFromLongRun   int
	TestFromRemainder int
}

// NewSplitRand returns the generator shared by the three holdout draws.
func NewSplitRand(seed int64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), uint64(seed)))
}

// Split partitions the unique query ids of in into train, val and test.
// Long-running queries (optimizer latency above the 99th percentile) are
// split separately so the test split receives a controlled share of them.
// The three holdout draws consume one generator seeded with cfg.Seed, in the
// order long-running, remainder, train/val.
func Split(in SplitInput, cfg SplitConfig) (*models.Assignment, *SplitStats, error) {
	if len(in.QueryIDs) != len(in.Latencies) || len(in.QueryIDs) != len(in.OptChoice) {
		return nil, nil, errors.Newf(errors.CodeInvalidArgument,
			"split input arrays differ in length: %d ids, %d latencies, %d flags",
			len(in.QueryIDs), len(in.Latencies), len(in.OptChoice))
	}

	unique := uniqueInOrder(in.QueryIDs)
	n := len(unique)
	stats := &SplitStats{
		UniqueQueries: n,
		TestSamples:   resolveCount(cfg.TestSamples, n),
		ValSamples:    resolveCount(cfg.ValSamples, n),
	}

	optLatency := make(map[int64]float64, n)
	var optLatencies []float64
	for i, qid := range in.QueryIDs {
		if !in.OptChoice[i] {
			continue
		}
		if _, seen := optLatency[qid]; seen {
			continue
		}
		optLatency[qid] = in.Latencies[i]
		optLatencies = append(optLatencies, in.Latencies[i])
	}

	var longRunning, remainder []int64
	if len(optLatencies) > 0 {
		stats.LongRunThreshold = Percentile(optLatencies, LongRunningPercentile)
	}
	for _, qid := range unique {
		lat, ok := optLatency[qid]
		if ok && lat > stats.LongRunThreshold {
			longRunning = append(longRunning, qid)
		} else {
			remainder = append(remainder, qid)
		}
	}
	stats.LongRunning = len(longRunning)

	if cfg.TestLongrunShare != nil {
		stats.TestLongrunShare = *cfg.TestLongrunShare
	} else if n > 0 {
		stats.TestLongrunShare = float64(stats.TestSamples) / float64(n)
	}

	share := stats.TestLongrunShare
	if math.IsNaN(share) || share <= 0 || share >= 1 {
		return nil, nil, errors.Newf(errors.CodeInvalidSplitSize,
			"test longrun share must be a fraction in (0, 1), got %v", share).
			WithDetail("test_longrun_share", share)
	}

	rng := NewSplitRand(cfg.Seed)

	trainVal1, test1, err := holdoutSplit(rng, longRunning, stats.TestLongrunShare)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.CodeInvalidSplitSize, "failed to split long-running queries")
	}
	stats.TestFromLongRun = len(test1)

	residual := stats.TestSamples - len(test1)
	trainVal2, test2, err := holdoutSplit(rng, remainder, float64(residual))
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.CodeInvalidSplitSize, "failed to split remaining queries")
	}
	stats.TestFromRemainder = len(test2)

	test := union(test1, test2)
	trainVal := union(trainVal1, trainVal2)

	train, val, err := holdoutSplit(rng, trainVal, float64(stats.ValSamples))
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.CodeInvalidSplitSize, "failed to split train and val queries")
	}

	return &models.Assignment{Train: train, Val: val, Test: test}, stats, nil
}

// resolveCount turns a ratio below 1 into a count of n, truncating.
func resolveCount(v float64, n int) int {
	if v < 1 {
		return int(v * float64(n))
	}
	return int(v)
}

// holdoutSplit shuffles ids and moves testSize of them to the holdout part.
// A testSize in (0, 1) is a fraction rounded up; a whole number >= 1 is an
// absolute count. Sizes that leave either part empty are rejected rather than
// clamped.
func holdoutSplit(rng *rand.Rand, ids []int64, testSize float64) (train, test []int64, err error) {
	n := len(ids)

	var nTest int
	switch {
	case testSize > 0 && testSize < 1:
		nTest = int(math.Ceil(testSize * float64(n)))
	case testSize >= 1 && testSize == math.Trunc(testSize):
		nTest = int(testSize)
		if nTest >= n {
			return nil, nil, errors.Newf(errors.CodeInvalidSplitSize,
				"test size %d should be smaller than the number of ids %d", nTest, n)
		}
	default:
		return nil, nil, errors.Newf(errors.CodeInvalidSplitSize,
			"test size %v should be a positive count or a fraction in (0, 1)", testSize)
	}

	if n-nTest <= 0 {
		return nil, nil, errors.Newf(errors.CodeInvalidSplitSize,
			"with %d ids and test size %v the train part would be empty", n, testSize)
	}

	perm := rng.Perm(n)
	test = make([]int64, nTest)
	for i, p := range perm[:nTest] {
		test[i] = ids[p]
	}
	train = make([]int64, n-nTest)
	for i, p := range perm[nTest:] {
		train[i] = ids[p]
	}
	return train, test, nil
}

// uniqueInOrder returns the distinct ids in first-appearance order.
func uniqueInOrder(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0)
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// union returns the sorted distinct ids of a and b.
func union(a, b []int64) []int64 {
	out := make([]int64, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	slices.Sort(out)
	return slices.Compact(out)
}

// Percentile computes the q-th percentile of values using linear
// interpolation between the closest ranks.
func Percentile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	rank := q / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}
