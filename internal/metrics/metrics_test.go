package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCollector(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()

	collector := NewCollector()

	require.NotNil(t, collector)
	assert.NotNil(t, collector.walAppends)
	assert.NotNil(t, collector.walSyncs)
	assert.NotNil(t, collector.walSyncErrors)
	assert.NotNil(t, collector.walAppendLatency)
	assert.NotNil(t, collector.walBatchSize)
	assert.NotNil(t, collector.cacheHits)
	assert.NotNil(t, collector.cacheMisses)
	assert.NotNil(t, collector.cacheNegativeHits)
}

func TestRecordAppend(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		for i := 0; i < 5; i++ {
			collector.RecordAppend()
		}
	})
}

func TestRecordSync(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.RecordSync(32, 0.002, nil)
		collector.RecordSync(1, 0.0005, errors.New("flush failed"))
	})
}

func TestRecordCacheCounters(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.RecordCacheHit()
		collector.RecordCacheMiss()
		collector.RecordCacheNegativeHit()
	})
}

func TestConcurrentMetricUpdates(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	done := make(chan bool, 100)
	for i := 0; i < 100; i++ {
		go func() {
			collector.RecordAppend()
			collector.RecordSync(4, 0.001, nil)
			collector.RecordCacheHit()
			done <- true
		}()
	}
	for i := 0; i < 100; i++ {
		<-done
	}
}

func TestCollectorIsolation(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()

	collector1 := NewCollector()
	require.NotNil(t, collector1)

	// A second collector on the same registry panics on duplicate
	// registration: a process should have exactly one collector.
	assert.Panics(t, func() {
		NewCollector()
	})
}
