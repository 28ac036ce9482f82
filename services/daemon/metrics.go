package daemon

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"boardsync/services/reconciler"
)

type metrics struct {
	registry *prometheus.Registry

	cycles   *prometheus.CounterVec
	entries  *prometheus.CounterVec
	retries  prometheus.Counter
	duration prometheus.Histogram
	lastSync prometheus.Gauge
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "boardsync",
			Name:      "cycles_total",
			Help:      "Reconcile cycles by result.",
		}, []string{"result"}),
		entries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "boardsync",
			Name:      "entries_total",
			Help:      "App entries handled by outcome.",
		}, []string{"outcome"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "boardsync",
			Name:      "retries_total",
			Help:      "Cycles retried after the dashboard was unavailable.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "boardsync",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of reconcile cycles including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		lastSync: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "boardsync",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful cycle.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.cycles, m.entries, m.retries, m.duration, m.lastSync,
	)
	return m
}

func (m *metrics) observe(report reconciler.Report, err error, elapsed time.Duration) {
	m.duration.Observe(elapsed.Seconds())
	if err != nil {
		m.cycles.WithLabelValues("error").Inc()
		return
	}
	m.cycles.WithLabelValues("ok").Inc()
	m.lastSync.SetToCurrentTime()

	for outcome, n := range map[string]int{
		"created":   report.Created,
		"updated":   report.Updated,
		"unchanged": report.Unchanged,
		"placed":    report.Placed,
		"skipped":   report.Skipped,
		"removed":   report.Removed,
		"failed":    report.Failed,
	} {
		m.entries.WithLabelValues(outcome).Add(float64(n))
	}
}
