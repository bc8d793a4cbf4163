// Package observability — metrics.go
//
// Prometheus metrics for vivo-opscore.
//
// Endpoint: GET /metrics on 127.0.0.1:9091 (configurable).
// Metric naming convention: vivoops_<subsystem>_<name>_<unit>.
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global registry) to avoid collisions with other instrumented
// libraries in the same process — same reasoning as the teacher agent's
// observability package.
//
// Only UptimeSeconds and the Go/process collectors are updated: nothing in
// this repository increments or sets the other metrics declared below, so
// they are exported but stay at their zero values.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus metric descriptor for vivo-opscore.
type Metrics struct {
	registry  *prometheus.Registry
	startTime time.Time

	// ─── Bus ──────────────────────────────────────────────────────────────

	// BusEventsPublishedTotal counts envelopes accepted by Publish, by topic.
	BusEventsPublishedTotal *prometheus.CounterVec

	// BusEventsDroppedTotal counts envelopes dropped by backpressure policy.
	// Labels: topic, subscriber.
	BusEventsDroppedTotal *prometheus.CounterVec

	// BusDuplicatesTotal counts idempotent replays dropped. Labels: topic, subscriber.
	BusDuplicatesTotal *prometheus.CounterVec

	// BusQueueDepth is the current per-subscriber queue depth. Labels: topic, subscriber.
	BusQueueDepth *prometheus.GaugeVec

	// ─── Anomaly detector ─────────────────────────────────────────────────

	AnomalyScoreHistogram prometheus.Histogram
	AnomalyEvalsTotal     prometheus.Counter
	AnomalyAlertsTotal    *prometheus.CounterVec // labels: kind, severity

	// ─── Drawdown monitor ─────────────────────────────────────────────────

	DrawdownCurrentPct  prometheus.Gauge
	DrawdownCooloffsTotal *prometheus.CounterVec // labels: level

	// ─── Endpoint failover ────────────────────────────────────────────────

	EndpointScore          *prometheus.GaugeVec // labels: endpoint
	EndpointStateTransitionsTotal *prometheus.CounterVec // labels: from, to
	EndpointSwitchesTotal  prometheus.Counter

	// ─── Guardrail bridge ─────────────────────────────────────────────────

	GuardrailChangesTotal  *prometheus.CounterVec // labels: mode
	GuardrailDuplicatesTotal prometheus.Counter

	// ─── Log router ───────────────────────────────────────────────────────

	LogRecordsRoutedTotal *prometheus.CounterVec // labels: level, sink
	LogRecordsDroppedTotal prometheus.Counter
	LogSinkBatchesFlushedTotal *prometheus.CounterVec // labels: sink

	// ─── Storage ──────────────────────────────────────────────────────────

	StorageWriteLatency   prometheus.Histogram
	AuditEntriesTotal     prometheus.Counter

	// ─── Process ──────────────────────────────────────────────────────────

	UptimeSeconds prometheus.Gauge
}

// NewMetrics creates and registers every vivo-opscore Prometheus metric.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		BusEventsPublishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vivoops", Subsystem: "bus", Name: "published_total",
			Help: "Total envelopes accepted by Publish, by topic.",
		}, []string{"topic"}),

		BusEventsDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vivoops", Subsystem: "bus", Name: "dropped_total",
			Help: "Total envelopes dropped by subscriber backpressure policy.",
		}, []string{"topic", "subscriber"}),

		BusDuplicatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vivoops", Subsystem: "bus", Name: "duplicates_total",
			Help: "Total idempotent replays dropped.",
		}, []string{"topic", "subscriber"}),

		BusQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "vivoops", Subsystem: "bus", Name: "queue_depth",
			Help: "Current per-subscriber queue depth.",
		}, []string{"topic", "subscriber"}),

		AnomalyScoreHistogram: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vivoops", Subsystem: "anomaly", Name: "score",
			Help:    "Distribution of robust-z anomaly scores.",
			Buckets: []float64{0.5, 1, 2, 3, 3.5, 5, 8, 14, 25},
		}),

		AnomalyEvalsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vivoops", Subsystem: "anomaly", Name: "evals_total",
			Help: "Total anomaly evaluations performed.",
		}),

		AnomalyAlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vivoops", Subsystem: "anomaly", Name: "alerts_total",
			Help: "Total telemetry.alert emissions, by kind and severity.",
		}, []string{"kind", "severity"}),

		DrawdownCurrentPct: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vivoops", Subsystem: "drawdown", Name: "current_pct",
			Help: "Current drawdown percentage from peak.",
		}),

		DrawdownCooloffsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vivoops", Subsystem: "drawdown", Name: "cooloffs_total",
			Help: "Total cool-offs entered, by level.",
		}, []string{"level"}),

		EndpointScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "vivoops", Subsystem: "endpoint", Name: "score",
			Help: "Current health score per endpoint.",
		}, []string{"endpoint"}),

		EndpointStateTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vivoops", Subsystem: "endpoint", Name: "state_transitions_total",
			Help: "Total FSM state transitions, by from/to state.",
		}, []string{"from", "to"}),

		EndpointSwitchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vivoops", Subsystem: "endpoint", Name: "switches_total",
			Help: "Total completed endpoint switches.",
		}),

		GuardrailChangesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vivoops", Subsystem: "guardrail", Name: "changes_total",
			Help: "Total action bundles mutated, by resulting mode.",
		}, []string{"mode"}),

		GuardrailDuplicatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vivoops", Subsystem: "guardrail", Name: "duplicates_total",
			Help: "Total proposed bundles dropped as idempotent duplicates.",
		}),

		LogRecordsRoutedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vivoops", Subsystem: "logrouter", Name: "routed_total",
			Help: "Total log records routed, by level and sink.",
		}, []string{"level", "sink"}),

		LogRecordsDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vivoops", Subsystem: "logrouter", Name: "dropped_total",
			Help: "Total log records dropped by a matching rule.",
		}),

		LogSinkBatchesFlushedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vivoops", Subsystem: "logrouter", Name: "batches_flushed_total",
			Help: "Total sink batches flushed, by sink.",
		}, []string{"sink"}),

		StorageWriteLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vivoops", Subsystem: "storage", Name: "write_latency_seconds",
			Help: "Audit/checkpoint write transaction latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),

		AuditEntriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vivoops", Subsystem: "storage", Name: "audit_entries_total",
			Help: "Total audit.log entries written.",
		}),

		UptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vivoops", Subsystem: "process", Name: "uptime_seconds",
			Help: "Seconds since the process started.",
		}),
	}

	reg.MustRegister(
		m.BusEventsPublishedTotal, m.BusEventsDroppedTotal, m.BusDuplicatesTotal, m.BusQueueDepth,
		m.AnomalyScoreHistogram, m.AnomalyEvalsTotal, m.AnomalyAlertsTotal,
		m.DrawdownCurrentPct, m.DrawdownCooloffsTotal,
		m.EndpointScore, m.EndpointStateTransitionsTotal, m.EndpointSwitchesTotal,
		m.GuardrailChangesTotal, m.GuardrailDuplicatesTotal,
		m.LogRecordsRoutedTotal, m.LogRecordsDroppedTotal, m.LogSinkBatchesFlushedTotal,
		m.StorageWriteLatency, m.AuditEntriesTotal,
		m.UptimeSeconds,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// ServeMetrics starts the Prometheus HTTP metrics server on addr, serving
// GET /metrics and GET /healthz. Blocks until ctx is cancelled.
func (m *Metrics) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go m.updateUptime(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}

func (m *Metrics) updateUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.UptimeSeconds.Set(time.Since(m.startTime).Seconds())
		case <-ctx.Done():
			return
		}
	}
}
