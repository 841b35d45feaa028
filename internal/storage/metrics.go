package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const latencyWindow = 128

// Metrics tracks gateway operation counters. It is owned by the gateway
// instance rather than living in package state, so two gateways never
// share counters. Counts are mirrored to an OpenTelemetry meter for
// external scraping; Snapshot serves in-process observability.
type Metrics struct {
	operations   atomic.Int64
	successes    atomic.Int64
	failures     atomic.Int64
	retries      atomic.Int64
	corruptPurge atomic.Int64

	latenciesMu     sync.Mutex
	recentLatencies []time.Duration

	otelOperations metric.Int64Counter
	otelSuccesses  metric.Int64Counter
	otelFailures   metric.Int64Counter
	otelRetries    metric.Int64Counter
}

// NewMetrics creates a metrics sink registered against the global otel
// meter provider.
func NewMetrics() *Metrics {
	meter := otel.Meter("github.com/thebtf/liftlog/internal/storage")

	m := &Metrics{
		recentLatencies: make([]time.Duration, 0, latencyWindow),
	}
	m.otelOperations, _ = meter.Int64Counter("liftlog.storage.operations")
	m.otelSuccesses, _ = meter.Int64Counter("liftlog.storage.successes")
	m.otelFailures, _ = meter.Int64Counter("liftlog.storage.failures")
	m.otelRetries, _ = meter.Int64Counter("liftlog.storage.retries")
	return m
}

// RecordOperation counts an Execute invocation.
func (m *Metrics) RecordOperation(ctx context.Context) {
	m.operations.Add(1)
	if m.otelOperations != nil {
		m.otelOperations.Add(ctx, 1)
	}
}

// RecordSuccess counts a settled operation and tracks its latency.
func (m *Metrics) RecordSuccess(ctx context.Context, latency time.Duration) {
	m.successes.Add(1)
	if m.otelSuccesses != nil {
		m.otelSuccesses.Add(ctx, 1)
	}
	m.trackLatency(latency)
}

// RecordFailure counts an operation that exhausted its retries.
func (m *Metrics) RecordFailure(ctx context.Context, latency time.Duration) {
	m.failures.Add(1)
	if m.otelFailures != nil {
		m.otelFailures.Add(ctx, 1)
	}
	m.trackLatency(latency)
}

// RecordRetry counts a retry attempt.
func (m *Metrics) RecordRetry(ctx context.Context) {
	m.retries.Add(1)
	if m.otelRetries != nil {
		m.otelRetries.Add(ctx, 1)
	}
}

// RecordCorruptPurge counts a corrupt payload purged during read
// recovery. Kept visible so the lossy-recovery policy is observable.
func (m *Metrics) RecordCorruptPurge() {
	m.corruptPurge.Add(1)
}

func (m *Metrics) trackLatency(latency time.Duration) {
	m.latenciesMu.Lock()
	defer m.latenciesMu.Unlock()
	m.recentLatencies = append(m.recentLatencies, latency)
	if len(m.recentLatencies) > latencyWindow {
		m.recentLatencies = m.recentLatencies[len(m.recentLatencies)-latencyWindow:]
	}
}

// MetricsSnapshot is a point-in-time view of the counters.
type MetricsSnapshot struct {
	Operations    int64         `json:"operations"`
	Successes     int64         `json:"successes"`
	Failures      int64         `json:"failures"`
	Retries       int64         `json:"retries"`
	CorruptPurges int64         `json:"corrupt_purges"`
	AvgLatency    time.Duration `json:"avg_latency"`
}

// Snapshot returns the current counter values and the rolling average
// latency over the recent window.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Operations:    m.operations.Load(),
		Successes:     m.successes.Load(),
		Failures:      m.failures.Load(),
		Retries:       m.retries.Load(),
		CorruptPurges: m.corruptPurge.Load(),
	}

	m.latenciesMu.Lock()
	defer m.latenciesMu.Unlock()
	if len(m.recentLatencies) > 0 {
		var total time.Duration
		for _, l := range m.recentLatencies {
			total += l
		}
		snap.AvgLatency = total / time.Duration(len(m.recentLatencies))
	}
	return snap
}

// Reset zeroes the in-process counters. The otel counters are
// monotonic by contract and are left alone.
func (m *Metrics) Reset() {
	m.operations.Store(0)
	m.successes.Store(0)
	m.failures.Store(0)
	m.retries.Store(0)
	m.corruptPurge.Store(0)

	m.latenciesMu.Lock()
	m.recentLatencies = m.recentLatencies[:0]
	m.latenciesMu.Unlock()
}
