// Package metrics provides Prometheus instrumentation and a JSON stats
// endpoint for the headerlock daemon.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Save result label values.
const (
	SaveApplied  = "applied"
	SaveRejected = "rejected"
	SaveError    = "error"
)

// Metrics collects Prometheus counters and gauges for the daemon.
type Metrics struct {
	registry *prometheus.Registry

	savesTotal      *prometheus.CounterVec
	reconcilesTotal *prometheus.CounterVec
	rulesInstalled  prometheus.Gauge
	applyDuration   prometheus.Histogram
	expiryFires     prometheus.Counter
	expiryArmed     prometheus.Gauge

	mu             sync.Mutex
	startTime      time.Time
	saveCounts     map[string]int64
	appliedDeltas  int64
	noopReconciles int64
}

// New creates a Metrics instance with its own Prometheus registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	savesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "headerlock",
		Name:      "saves_total",
		Help:      "Total profile save attempts by result.",
	}, []string{"result"})

	reconcilesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "headerlock",
		Name:      "reconciles_total",
		Help:      "Total reconciliations by outcome.",
	}, []string{"outcome"})

	rulesInstalled := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "headerlock",
		Name:      "rules_installed",
		Help:      "Current number of installed filter rules.",
	})

	applyDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "headerlock",
		Name:      "apply_duration_seconds",
		Help:      "Rule-table delta apply latency in seconds.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
	})

	expiryFires := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "headerlock",
		Name:      "expiry_fires_total",
		Help:      "Total expiry transitions executed.",
	})

	expiryArmed := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "headerlock",
		Name:      "expiry_armed",
		Help:      "Whether an expiry timer is currently armed (0 or 1).",
	})

	reg.MustRegister(savesTotal, reconcilesTotal, rulesInstalled,
		applyDuration, expiryFires, expiryArmed)

	return &Metrics{
		registry:        reg,
		savesTotal:      savesTotal,
		reconcilesTotal: reconcilesTotal,
		rulesInstalled:  rulesInstalled,
		applyDuration:   applyDuration,
		expiryFires:     expiryFires,
		expiryArmed:     expiryArmed,
		startTime:       time.Now(),
		saveCounts:      make(map[string]int64),
	}
}

// RecordSave records a save attempt outcome (applied, rejected, error).
func (m *Metrics) RecordSave(result string) {
	m.savesTotal.WithLabelValues(result).Inc()

	m.mu.Lock()
	m.saveCounts[result]++
	m.mu.Unlock()
}

// RecordApplied records a reconciliation that changed the rule table.
func (m *Metrics) RecordApplied(installed int, duration time.Duration) {
	m.reconcilesTotal.WithLabelValues("applied").Inc()
	m.rulesInstalled.Set(float64(installed))
	m.applyDuration.Observe(duration.Seconds())

	m.mu.Lock()
	m.appliedDeltas++
	m.mu.Unlock()
}

// RecordNoop records a reconciliation whose delta was empty.
func (m *Metrics) RecordNoop() {
	m.reconcilesTotal.WithLabelValues("noop").Inc()

	m.mu.Lock()
	m.noopReconciles++
	m.mu.Unlock()
}

// RecordExpiryFired counts an executed expiry transition.
func (m *Metrics) RecordExpiryFired() {
	m.expiryFires.Inc()
}

// SetExpiryArmed reflects the scheduler state in the gauge.
func (m *Metrics) SetExpiryArmed(armed bool) {
	if armed {
		m.expiryArmed.Set(1)
	} else {
		m.expiryArmed.Set(0)
	}
}

// PrometheusHandler returns an HTTP handler serving /metrics in
// Prometheus text format.
func (m *Metrics) PrometheusHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StatsHandler returns an HTTP handler serving a JSON stats summary.
func (m *Metrics) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		m.mu.Lock()
		stats := statsResponse{
			UptimeSeconds: time.Since(m.startTime).Seconds(),
			Saves: saveStats{
				Applied:  m.saveCounts[SaveApplied],
				Rejected: m.saveCounts[SaveRejected],
				Errors:   m.saveCounts[SaveError],
			},
			Reconciles: reconcileStats{
				Applied: m.appliedDeltas,
				Noop:    m.noopReconciles,
			},
		}
		m.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(stats)
	}
}

type statsResponse struct {
	UptimeSeconds float64        `json:"uptime_seconds"`
	Saves         saveStats      `json:"saves"`
	Reconciles    reconcileStats `json:"reconciles"`
}

type saveStats struct {
	Applied  int64 `json:"applied"`
	Rejected int64 `json:"rejected"`
	Errors   int64 `json:"errors"`
}

type reconcileStats struct {
	Applied int64 `json:"applied"`
	Noop    int64 `json:"noop"`
}
