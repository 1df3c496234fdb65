// File: internal/observability/metrics.go
package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "scalpel_sast"

// Metrics are the counters and histograms of one process. Each Metrics owns
// its registry so scans and tests never share state.
type Metrics struct {
	registry *prometheus.Registry

	// filesPrepared counts files by outcome: ok, parse_failure, internal_error.
	filesPrepared *prometheus.CounterVec
	// vulnerabilities counts findings by rule.
	vulnerabilities *prometheus.CounterVec
	// gaps counts coverage gaps by reason.
	gaps *prometheus.CounterVec
	// steps counts evaluator steps by rule.
	steps *prometheus.CounterVec
	// pairDuration measures the evaluation of one rule over one file.
	pairDuration *prometheus.HistogramVec
	// prepareDuration measures the lowering, linking and marking of one file.
	prepareDuration prometheus.Histogram
}

// NewMetrics registers the scan metrics on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		filesPrepared: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "files_prepared_total",
			Help:      "Files prepared for evaluation, by outcome",
		}, []string{"outcome"}),
		vulnerabilities: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "vulnerabilities_total",
			Help:      "Vulnerabilities reported, by rule",
		}, []string{"rule"}),
		gaps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "coverage_gaps_total",
			Help:      "Coverage gaps recorded, by reason",
		}, []string{"reason"}),
		steps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eval",
			Name:      "steps_total",
			Help:      "Symbolic evaluation steps spent, by rule",
		}, []string{"rule"}),
		pairDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "eval",
			Name:      "pair_duration_seconds",
			Help:      "Time to evaluate one rule over one file",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}, []string{"rule"}),
		prepareDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "prepare_duration_seconds",
			Help:      "Time to lower, link and mark one file",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
	}
}

// Registry exposes the registry, e.g. for an HTTP handler or tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// FilePrepared records the outcome of preparing one file.
func (m *Metrics) FilePrepared(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.filesPrepared.WithLabelValues(outcome).Inc()
	m.prepareDuration.Observe(d.Seconds())
}

// PairEvaluated records one rule and file evaluation.
func (m *Metrics) PairEvaluated(rule string, steps int64, vulns int, d time.Duration) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(rule).Add(float64(steps))
	m.vulnerabilities.WithLabelValues(rule).Add(float64(vulns))
	m.pairDuration.WithLabelValues(rule).Observe(d.Seconds())
}

// Gap records one coverage gap.
func (m *Metrics) Gap(reason string) {
	if m == nil {
		return
	}
	m.gaps.WithLabelValues(reason).Inc()
}

// WriteTextfile writes every metric to path in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}
