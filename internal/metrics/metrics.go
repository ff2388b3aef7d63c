package metrics

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	serviceRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quillforge_service_request_duration_seconds",
			Help:    "Generation Service request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s to ~100s
		},
		[]string{"action", "surface", "status"},
	)

	streamEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quillforge_stream_events_total",
			Help: "Stream events consumed by type",
		},
		[]string{"type"},
	)

	fallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quillforge_stream_fallback_total",
			Help: "Synchronous fallbacks after a failed stream",
		},
		[]string{"status"},
	)

	checkpointWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quillforge_checkpoint_writes_total",
			Help: "Checkpoint writes by result",
		},
		[]string{"result"}, // "insert", "update", "error", "skipped"
	)

	snapshotLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quillforge_snapshot_lookups_total",
			Help: "Snapshot cache lookups by result",
		},
		[]string{"result"}, // "hit", "miss_absent", "miss_expired", "miss_budget"
	)
)

// Collector provides convenience methods for recording metrics.
// A nil Collector is valid and records nothing.
type Collector struct {
	logger *slog.Logger
}

// NewCollector creates a new metrics collector
func NewCollector(logger *slog.Logger) *Collector {
	return &Collector{logger: logger}
}

// RecordServiceRequest records a Generation Service request duration
func (c *Collector) RecordServiceRequest(action, surface string, duration time.Duration, success bool) {
	if c == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	serviceRequestDuration.WithLabelValues(action, surface, status).Observe(duration.Seconds())
}

// RecordStreamEvent counts one consumed stream event
func (c *Collector) RecordStreamEvent(eventType string) {
	if c == nil {
		return
	}
	streamEvents.WithLabelValues(eventType).Inc()
}

// RecordFallback counts one synchronous fallback attempt
func (c *Collector) RecordFallback(success bool) {
	if c == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	fallbacks.WithLabelValues(status).Inc()
}

// RecordCheckpointWrite counts one checkpoint write by result
func (c *Collector) RecordCheckpointWrite(result string) {
	if c == nil {
		return
	}
	checkpointWrites.WithLabelValues(result).Inc()
}

// RecordSnapshotLookup counts one snapshot cache lookup by result
func (c *Collector) RecordSnapshotLookup(result string) {
	if c == nil {
		return
	}
	snapshotLookups.WithLabelValues(result).Inc()
}
