package memory

import (
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow/memory"
)

var (
	// defaultAllocator backs every record built or read by the pipeline
	defaultAllocator = NewTrackedAllocator(memory.NewGoAllocator())
)

// Stats is a point-in-time view of a TrackedAllocator.
type Stats struct {
	BytesUsed   int64
	PeakBytes   int64
	Allocations int64
}

// TrackedAllocator wraps a memory.Allocator and records current and peak
// usage so the collation stages can report how much Arrow memory they held.
type TrackedAllocator struct {
	underlying  memory.Allocator
	bytesUsed   atomic.Int64
	peak        atomic.Int64
	allocations atomic.Int64
}

// NewTrackedAllocator creates a new TrackedAllocator
func NewTrackedAllocator(underlying memory.Allocator) *TrackedAllocator {
	return &TrackedAllocator{
		underlying: underlying,
	}
}

func (a *TrackedAllocator) grow(delta int64) {
	used := a.bytesUsed.Add(delta)
	for {
		peak := a.peak.Load()
		if used <= peak || a.peak.CompareAndSwap(peak, used) {
			return
		}
	}
}

// Allocate implements memory.Allocator
func (a *TrackedAllocator) Allocate(size int) []byte {
	a.allocations.Add(1)
	a.grow(int64(size))
	return a.underlying.Allocate(size)
}

// Reallocate implements memory.Allocator
func (a *TrackedAllocator) Reallocate(size int, b []byte) []byte {
	a.grow(int64(size - len(b)))
	return a.underlying.Reallocate(size, b)
}

// Free implements memory.Allocator
func (a *TrackedAllocator) Free(b []byte) {
	a.bytesUsed.Add(-int64(len(b)))
	a.underlying.Free(b)
}

// BytesUsed returns the number of bytes currently allocated
func (a *TrackedAllocator) BytesUsed() int64 {
	return a.bytesUsed.Load()
}

// Stats returns current usage, the high-water mark and the allocation count.
func (a *TrackedAllocator) Stats() Stats {
	return Stats{
		BytesUsed:   a.bytesUsed.Load(),
		PeakBytes:   a.peak.Load(),
		Allocations: a.allocations.Load(),
	}
}

// ResetPeak lowers the high-water mark to the current usage.
func (a *TrackedAllocator) ResetPeak() {
	a.peak.Store(a.bytesUsed.Load())
}

// Default returns the process-wide tracked allocator.
func Default() *TrackedAllocator {
	return defaultAllocator
}
