package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNoOpCollector(t *testing.T) {
	collector := NewNoOpCollector()
	collector.IncrementCounter(QueriesLoaded, "files_id", "job")
	collector.AddCounter(SamplesBuilt, 12, "files_id", "job")
	collector.RecordHistogram("test_histogram", 42.0, "label1", "value1")
	collector.RecordGauge(SplitSamples, 42.0, "split", "train")
}

func TestNoOpCollector_StartTimer(t *testing.T) {
	timer := NewNoOpCollector().StartTimer("build")
	time.Sleep(10 * time.Millisecond)

	duration := timer.Stop()
	assert.Greater(t, duration, 0.0)
	assert.Less(t, duration, 1.0)
}
