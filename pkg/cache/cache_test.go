package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSchema = arrow.NewSchema([]arrow.Field{
	{Name: "query_id", Type: arrow.PrimitiveTypes.Int64},
}, nil)

type countingLoader struct {
	mem   memory.Allocator
	rows  int
	calls map[string]int
	err   error
}

func newCountingLoader(mem memory.Allocator, rows int) *countingLoader {
	return &countingLoader{mem: mem, rows: rows, calls: map[string]int{}}
}

func (l *countingLoader) load(ctx context.Context, key string) (*arrow.Schema, []arrow.Record, error) {
	l.calls[key]++
	if l.err != nil {
		return nil, nil, l.err
	}
	b := array.NewRecordBuilder(l.mem, testSchema)
	defer b.Release()
	for i := 0; i < l.rows; i++ {
		b.Field(0).(*array.Int64Builder).Append(int64(i))
	}
	return testSchema, []arrow.Record{b.NewRecord()}, nil
}

func release(records []arrow.Record) {
	for _, rec := range records {
		rec.Release()
	}
}

func TestMemoryCache_HitAndMiss(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	loader := newCountingLoader(mem, 8)
	c := NewMemoryCache(DefaultConfig(), loader.load)
	defer c.Close()
	ctx := context.Background()

	schema, records, err := c.Get(ctx, "proc_data_job_tr")
	require.NoError(t, err)
	assert.True(t, schema.Equal(testSchema))
	require.Len(t, records, 1)
	assert.Equal(t, int64(8), records[0].NumRows())
	release(records)

	_, records, err = c.Get(ctx, "proc_data_job_tr")
	require.NoError(t, err)
	release(records)

	assert.Equal(t, 1, loader.calls["proc_data_job_tr"])
	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Greater(t, stats.Size, int64(0))
}

func TestMemoryCache_CallerKeepsRecordsAfterEviction(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	loader := newCountingLoader(mem, 4)
	c := NewMemoryCache(DefaultConfig(), loader.load)
	ctx := context.Background()

	_, records, err := c.Get(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, c.Delete(ctx, "a"))

	col := records[0].Column(0).(*array.Int64)
	assert.Equal(t, int64(3), col.Value(3))
	release(records)
	require.NoError(t, c.Close())
}

func TestMemoryCache_EvictsLeastRecentlyUsed(t *testing.T) {
	mem := memory.NewGoAllocator()
	loader := newCountingLoader(mem, 64)

	_, probe, err := loader.load(context.Background(), "probe")
	require.NoError(t, err)
	entrySize := recordsSize(probe)
	release(probe)

	c := NewMemoryCache(DefaultConfig().WithMaxSize(2*entrySize), loader.load)
	defer c.Close()

	clock := time.Unix(0, 0)
	c.now = func() time.Time { return clock }

	ctx := context.Background()
	for _, key := range []string{"a", "b", "a", "c"} {
		clock = clock.Add(time.Second)
		_, records, err := c.Get(ctx, key)
		require.NoError(t, err)
		release(records)
	}

	assert.Equal(t, 2, c.Len())
	assert.Equal(t, uint64(1), c.Stats().Evictions)

	_, records, err := c.Get(ctx, "a")
	require.NoError(t, err)
	release(records)
	assert.Equal(t, 1, loader.calls["a"], "a was used recently and must survive")

	_, records, err = c.Get(ctx, "b")
	require.NoError(t, err)
	release(records)
	assert.Equal(t, 2, loader.calls["b"], "b was the eviction victim")
}

func TestMemoryCache_TTL(t *testing.T) {
	loader := newCountingLoader(memory.NewGoAllocator(), 2)
	c := NewMemoryCache(DefaultConfig().WithTTL(time.Minute), loader.load)
	defer c.Close()

	clock := time.Unix(100, 0)
	c.now = func() time.Time { return clock }

	ctx := context.Background()
	for _, step := range []time.Duration{0, 30 * time.Second, 45 * time.Second} {
		clock = clock.Add(step)
		_, records, err := c.Get(ctx, "k")
		require.NoError(t, err)
		release(records)
	}
	assert.Equal(t, 2, loader.calls["k"])
}

func TestMemoryCache_LoaderError(t *testing.T) {
	loader := newCountingLoader(memory.NewGoAllocator(), 1)
	loader.err = fmt.Errorf("boom")
	c := NewMemoryCache(DefaultConfig(), loader.load)

	_, _, err := c.Get(context.Background(), "x")
	assert.EqualError(t, err, "boom")
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCache_StatsDisabled(t *testing.T) {
	loader := newCountingLoader(memory.NewGoAllocator(), 1)
	c := NewMemoryCache(DefaultConfig().WithStats(false), loader.load)
	defer c.Close()

	_, records, err := c.Get(context.Background(), "x")
	require.NoError(t, err)
	release(records)
	assert.Equal(t, Stats{}, c.Stats())
}
