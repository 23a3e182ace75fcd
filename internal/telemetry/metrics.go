// Package telemetry holds the prometheus collectors shared by the cache layer.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "vplan"

// Refresh outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Refreshes          *prometheus.CounterVec
	BackgroundFailures *prometheus.CounterVec
	RemoteRequests     *prometheus.CounterVec
	Dropped            *prometheus.CounterVec
	Emissions          *prometheus.CounterVec
}

// New creates the collectors and registers them with reg when reg is not nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refreshes_total",
			Help:      "Remote refreshes started by the freshness engine, by mode and outcome.",
		}, []string{"mode", "outcome"}),
		BackgroundFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "background_refresh_failures_total",
			Help:      "Fast-mode background refreshes that failed and were not surfaced to the reader.",
		}, []string{"kind"}),
		RemoteRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_requests_total",
			Help:      "HTTP requests to the grades API by endpoint and result class.",
		}, []string{"endpoint", "result"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_rows_dropped_total",
			Help:      "Rows rejected before upsert, by entity kind and reason.",
		}, []string{"kind", "reason"}),
		Emissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_emissions_total",
			Help:      "Values emitted to readers by origin.",
		}, []string{"origin"}),
	}

	if reg != nil {
		reg.MustRegister(m.Refreshes, m.BackgroundFailures, m.RemoteRequests, m.Dropped, m.Emissions)
	}
	return m
}

// Refresh records a finished refresh.
func (m *Metrics) Refresh(mode string, err error) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(mode, outcome(err)).Inc()
}

// BackgroundFailure records a swallowed Fast-mode refresh failure.
func (m *Metrics) BackgroundFailure(kind string) {
	if m == nil {
		return
	}
	m.BackgroundFailures.WithLabelValues(kind).Inc()
}

// Remote records one HTTP request.
func (m *Metrics) Remote(endpoint, result string) {
	if m == nil {
		return
	}
	m.RemoteRequests.WithLabelValues(endpoint, result).Inc()
}

// Drop records rows rejected before upsert.
func (m *Metrics) Drop(kind, reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Dropped.WithLabelValues(kind, reason).Add(float64(n))
}

// Emit records a value handed to a reader.
func (m *Metrics) Emit(origin string) {
	if m == nil {
		return
	}
	m.Emissions.WithLabelValues(origin).Inc()
}

func outcome(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}
