package dataset

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/M2oDA-Lab/roq/pkg/errors"
	"github.com/M2oDA-Lab/roq/pkg/models"
)

func buildSplitInput(t *testing.T, n int) ([]*models.Sample, SplitInput) {
	t.Helper()
	res, err := newTestBuilder().Build(syntheticQueries(n))
	require.NoError(t, err)
	return res.Samples, SplitInputFromSamples(res.Samples)
}

func share(v float64) *float64 { return &v }

func assertPartition(t *testing.T, a *models.Assignment, all []int64) {
	t.Helper()
	seen := make(map[int64]models.Split)
	for _, split := range models.Splits {
		for _, id := range a.IDs(split) {
			prev, dup := seen[id]
			require.False(t, dup, "query %d in both %s and %s", id, prev, split)
			seen[id] = split
		}
	}
	assert.Len(t, seen, len(all))
	for _, id := range all {
		assert.Contains(t, seen, id)
	}
}

func TestSplit_ThousandQueryScenario(t *testing.T) {
	_, in := buildSplitInput(t, 1000)
	cfg := SplitConfig{Seed: 0, ValSamples: 0.1, TestSamples: 0.1, TestLongrunShare: share(0.5)}

	a, stats, err := Split(in, cfg)
	require.NoError(t, err)

	assert.Equal(t, 1000, stats.UniqueQueries)
	assert.Equal(t, 10, stats.LongRunning)
	assert.Equal(t, 5, stats.TestFromLongRun)
	assert.Equal(t, 95, stats.TestFromRemainder)

	assert.Len(t, a.Test, 100)
	assert.Len(t, a.Val, 100)
	assert.Len(t, a.Train, 800)
	assertPartition(t, a, uniqueInOrder(in.QueryIDs))

	again, _, err := Split(in, cfg)
	require.NoError(t, err)
	assert.Equal(t, a, again, "same seed must reproduce the partition")
}

func TestSplit_SeedChangesPartition(t *testing.T) {
	_, in := buildSplitInput(t, 400)
	cfg := SplitConfig{Seed: 1, ValSamples: 0.1, TestSamples: 0.1, TestLongrunShare: share(0.5)}

	a1, _, err := Split(in, cfg)
	require.NoError(t, err)
	cfg.Seed = 2
	a2, _, err := Split(in, cfg)
	require.NoError(t, err)

	assert.NotEqual(t, a1.Test, a2.Test)
}

func TestSplit_LongRunningStratification(t *testing.T) {
	_, in := buildSplitInput(t, 1000)
	a, stats, err := Split(in, SplitConfig{Seed: 3, ValSamples: 0.1, TestSamples: 0.1, TestLongrunShare: share(0.5)})
	require.NoError(t, err)

	// The ten slowest optimizer latencies belong to the last ten queries.
	longRunning := make(map[int64]bool)
	for i := 990; i < 1000; i++ {
		longRunning[int64(1000+i)] = true
	}

	inTest := 0
	for _, id := range a.Test {
		if longRunning[id] {
			inTest++
		}
	}
	assert.Equal(t, stats.TestFromLongRun, inTest)
	assert.InDelta(t, 0.5, float64(inTest)/float64(len(longRunning)), 1.0/float64(len(longRunning)))
}

func TestSplit_DerivedLongrunShare(t *testing.T) {
	_, in := buildSplitInput(t, 1000)
	a, stats, err := Split(in, SplitConfig{Seed: 0, ValSamples: 0.1, TestSamples: 0.1})
	require.NoError(t, err)

	assert.InDelta(t, 0.1, stats.TestLongrunShare, 1e-12)
	assert.Equal(t, 1, stats.TestFromLongRun)
	assert.Len(t, a.Test, 100)
}

func TestSplit_AbsoluteCounts(t *testing.T) {
	_, in := buildSplitInput(t, 300)
	a, stats, err := Split(in, SplitConfig{Seed: 0, ValSamples: 20, TestSamples: 30, TestLongrunShare: share(0.3)})
	require.NoError(t, err)

	assert.Equal(t, 3, stats.LongRunning)
	assert.Equal(t, 1, stats.TestFromLongRun)
	assert.Len(t, a.Test, 30)
	assert.Len(t, a.Val, 20)
	assert.Len(t, a.Train, 250)
}

func TestSplit_LongrunShareIsAFraction(t *testing.T) {
	_, in := buildSplitInput(t, 1000)
	for _, v := range []float64{0, 1, 3, math.NaN()} {
		t.Run(fmt.Sprintf("share %v", v), func(t *testing.T) {
			_, _, err := Split(in, SplitConfig{Seed: 0, ValSamples: 0.1, TestSamples: 0.1, TestLongrunShare: share(v)})
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidSplitSize)
			assert.Contains(t, err.Error(), "fraction in (0, 1)")
		})
	}

	// An absolute test count at or above the query count derives a share of 1.
	_, _, err := Split(in, SplitConfig{Seed: 0, ValSamples: 0.1, TestSamples: 1000})
	assert.ErrorIs(t, err, errors.ErrInvalidSplitSize)
}

func TestSplit_TestSizeExceedsPool(t *testing.T) {
	_, in := buildSplitInput(t, 300)
	_, _, err := Split(in, SplitConfig{Seed: 0, ValSamples: 0.1, TestSamples: 299, TestLongrunShare: share(0.5)})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidSplitSize)
}

func TestSplit_TooFewLongRunningQueries(t *testing.T) {
	// Below ~200 queries only one query sits above the 99th percentile and a
	// 0.5 share would leave its train part empty.
	_, in := buildSplitInput(t, 50)
	_, _, err := Split(in, SplitConfig{Seed: 0, ValSamples: 0.1, TestSamples: 0.1, TestLongrunShare: share(0.5)})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidSplitSize)
}

func TestSplit_MismatchedInput(t *testing.T) {
	_, _, err := Split(SplitInput{QueryIDs: []int64{1}, Latencies: nil, OptChoice: []bool{true}}, SplitConfig{})
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidArgument, errors.GetCode(err))
}

func TestSplit_DisqualifiedQueriesExcluded(t *testing.T) {
	queries := syntheticQueries(400)
	queries[7].Plans[0].Latency = nil
	queries[8].Plans[0].Cost = nil

	res, err := newTestBuilder().Build(queries)
	require.NoError(t, err)
	assert.Len(t, res.Samples, 398*3)

	in := SplitInputFromSamples(res.Samples)
	a, _, err := Split(in, SplitConfig{Seed: 0, ValSamples: 0.1, TestSamples: 0.1, TestLongrunShare: share(0.5)})
	require.NoError(t, err)

	ids := uniqueInOrder(in.QueryIDs)
	assert.Len(t, ids, 398)
	assert.NotContains(t, ids, queries[7].QueryID)
	assertPartition(t, a, ids)
}

func TestHoldoutSplit(t *testing.T) {
	ids := []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	tests := []struct {
		name     string
		testSize float64
		nTest    int
		wantErr  bool
	}{
		{name: "fraction rounds up", testSize: 0.25, nTest: 3},
		{name: "absolute count", testSize: 4, nTest: 4},
		{name: "count equals pool", testSize: 10, wantErr: true},
		{name: "zero", testSize: 0, wantErr: true},
		{name: "negative", testSize: -2, wantErr: true},
		{name: "non integral count", testSize: 2.5, wantErr: true},
		{name: "fraction leaves empty train", testSize: 0.99, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			train, test, err := holdoutSplit(NewSplitRand(0), ids, tt.testSize)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, errors.ErrInvalidSplitSize)
				return
			}
			require.NoError(t, err)
			assert.Len(t, test, tt.nTest)
			assert.Len(t, train, len(ids)-tt.nTest)
			assert.ElementsMatch(t, ids, append(append([]int64{}, train...), test...))
		})
	}
}

func TestHoldoutSplit_EmptyPool(t *testing.T) {
	_, _, err := holdoutSplit(NewSplitRand(0), nil, 0.5)
	require.Error(t, err)
}

func TestPercentile(t *testing.T) {
	assert.Equal(t, 2.5, Percentile([]float64{4, 1, 3, 2}, 50))
	assert.Equal(t, 7.0, Percentile([]float64{7}, 99))

	hundred := make([]float64, 100)
	for i := range hundred {
		hundred[i] = float64(i + 1)
	}
	assert.InDelta(t, 99.01, Percentile(hundred, 99), 1e-9)
	assert.True(t, Percentile(nil, 99) != Percentile(nil, 99), "empty input yields NaN")
}

func TestUnionAndUnique(t *testing.T) {
	assert.Equal(t, []int64{1, 2, 3, 5}, union([]int64{5, 1, 3}, []int64{3, 2}))
	assert.Equal(t, []int64{4, 1, 2}, uniqueInOrder([]int64{4, 1, 4, 2, 1}))
	assert.Equal(t, 10, resolveCount(0.1, 100))
	assert.Equal(t, 9, resolveCount(0.1, 99))
	assert.Equal(t, 7, resolveCount(7, 99))
}
