// Package metrics provides metrics collection for the dataset pipeline.
package metrics

import (
	"time"
)

// Metric names recorded by the pipeline.
const (
	QueriesLoaded      = "queries_loaded_total"
	QueriesSkipped     = "queries_skipped_total"
	SamplesBuilt       = "samples_built_total"
	SplitSamples       = "split_samples"
	SplitQueries       = "split_queries"
	LongRunningQueries = "long_running_queries"
	ArrowPeakBytes     = "arrow_peak_bytes"
	StageDuration      = "stage_duration_seconds"
	FlightRequests     = "flight_requests_total"
)

// Collector defines the interface for collecting metrics.
type Collector interface {
	// IncrementCounter increments a counter metric.
	IncrementCounter(name string, labels ...string)

	// AddCounter adds value to a counter metric.
	AddCounter(name string, value float64, labels ...string)

	// RecordHistogram records a value in a histogram metric.
	RecordHistogram(name string, value float64, labels ...string)

	// RecordGauge records a gauge metric value.
	RecordGauge(name string, value float64, labels ...string)

	// StartTimer starts a timer for the named pipeline stage.
	StartTimer(stage string) Timer
}

// Timer represents a timing measurement.
type Timer interface {
	// Stop stops the timer and returns the duration in seconds.
	Stop() float64
}

// NoOpCollector is a no-op implementation of Collector.
type NoOpCollector struct{}

// NewNoOpCollector creates a new no-op collector.
func NewNoOpCollector() Collector {
	return &NoOpCollector{}
}

// IncrementCounter does nothing.
func (n *NoOpCollector) IncrementCounter(name string, labels ...string) {}

// AddCounter does nothing.
func (n *NoOpCollector) AddCounter(name string, value float64, labels ...string) {}

// RecordHistogram does nothing.
func (n *NoOpCollector) RecordHistogram(name string, value float64, labels ...string) {}

// RecordGauge does nothing.
func (n *NoOpCollector) RecordGauge(name string, value float64, labels ...string) {}

// StartTimer returns a timer that only measures.
func (n *NoOpCollector) StartTimer(stage string) Timer {
	return &noOpTimer{start: time.Now()}
}

type noOpTimer struct {
	start time.Time
}

func (t *noOpTimer) Stop() float64 {
	return time.Since(t.start).Seconds()
}
