// Package monitoring provides Prometheus metrics and OpenTelemetry
// tracing for the tokend service.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics manages the Prometheus metrics.
type Metrics struct {
	TokensIssued       *prometheus.CounterVec
	IssueLatency       *prometheus.HistogramVec
	ValidationOutcomes *prometheus.CounterVec
	ValidationLatency  prometheus.Histogram
	Revocations        *prometheus.CounterVec
	RefreshRotations   *prometheus.CounterVec
	KeyRotations       prometheus.Counter
	PruneSweeps        *prometheus.CounterVec
	PrunedRows         *prometheus.CounterVec
}

// NewMetrics creates and registers the Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		TokensIssued: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokend_tokens_issued_total",
				Help: "Total number of tokens minted, by type.",
			},
			[]string{"token_type"},
		),
		IssueLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tokend_token_issue_latency_seconds",
				Help:    "Latency of token set issuance.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		),
		ValidationOutcomes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokend_token_validations_total",
				Help: "Total number of token validations, by outcome.",
			},
			[]string{"outcome"},
		),
		ValidationLatency: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tokend_token_validation_latency_seconds",
				Help:    "Latency of token validation.",
				Buckets: prometheus.DefBuckets,
			},
		),
		Revocations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokend_token_revocations_total",
				Help: "Total number of token revocations, by reason.",
			},
			[]string{"reason"},
		),
		RefreshRotations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokend_refresh_rotations_total",
				Help: "Total number of refresh rotations, by result.",
			},
			[]string{"result"},
		),
		KeyRotations: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tokend_key_rotations_total",
				Help: "Total number of signing key rotations.",
			},
		),
		PruneSweeps: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokend_prune_sweeps_total",
				Help: "Total number of retention sweeps, by result.",
			},
			[]string{"result"},
		),
		PrunedRows: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokend_pruned_rows_total",
				Help: "Total rows removed by retention sweeps, by table.",
			},
			[]string{"table"},
		),
	}
}

// RecordIssue records one issuance, per minted token type.
func (m *Metrics) RecordIssue(result string, tokenTypes []string, duration time.Duration) {
	for _, tokenType := range tokenTypes {
		m.TokensIssued.WithLabelValues(tokenType).Inc()
	}
	m.IssueLatency.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordValidation records one validation outcome. The outcome is
// "valid" or the error code of the failure.
func (m *Metrics) RecordValidation(outcome string, duration time.Duration) {
	m.ValidationOutcomes.WithLabelValues(outcome).Inc()
	m.ValidationLatency.Observe(duration.Seconds())
}

// RecordRevocation records one token revocation.
func (m *Metrics) RecordRevocation(reason string) {
	m.Revocations.WithLabelValues(reason).Inc()
}

// RecordRefresh records one refresh rotation attempt.
func (m *Metrics) RecordRefresh(result string) {
	m.RefreshRotations.WithLabelValues(result).Inc()
}

// RecordKeyRotation records one signing key rotation.
func (m *Metrics) RecordKeyRotation() {
	m.KeyRotations.Inc()
}

// RecordPrune records one retention sweep.
func (m *Metrics) RecordPrune(result, table string, rows int64) {
	m.PruneSweeps.WithLabelValues(result).Inc()
	if rows > 0 {
		m.PrunedRows.WithLabelValues(table).Add(float64(rows))
	}
}
