// Package metrics provides Prometheus instrumentation for trial checks.
//
// All Record and Set methods are safe to call on a nil *Metrics so callers
// can leave metrics disabled without guarding every call site.
package metrics

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "trialguard"

// Label values for results.
const (
	ResultSuccess     = "success"
	ResultFailure     = "failure"
	ResultRateLimited = "rate_limited"
	ResultSkipped     = "skipped"
	ResultValid       = "valid"
	ResultInvalid     = "invalid"
)

// Metrics holds the trial guard collectors.
type Metrics struct {
	Checks             *prometheus.CounterVec
	CheckDuration      prometheus.Histogram
	Reconciliations    prometheus.Counter
	Corruptions        *prometheus.CounterVec
	TimeSourceRequests *prometheus.CounterVec
	StoreWrites        *prometheus.CounterVec
	RemainingDays      prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_total",
			Help:      "Trial validity checks by result.",
		}, []string{"result"}),
		CheckDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconciliation_duration_seconds",
			Help:      "Time spent on a full reconciliation including storage and time source I/O.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5},
		}),
		Reconciliations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliations_total",
			Help:      "Full reconciliations performed outside the cache window.",
		}),
		Corruptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "corruptions_total",
			Help:      "Transitions to the corrupted state by reason.",
		}, []string{"reason"}),
		TimeSourceRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "time_source_requests_total",
			Help:      "External time source fetches by result.",
		}, []string{"result"}),
		StoreWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_writes_total",
			Help:      "Record writes by backend and result.",
		}, []string{"backend", "result"}),
		RemainingDays: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "remaining_days",
			Help:      "Trial days remaining as of the last check.",
		}),
	}

	collectors := []prometheus.Collector{
		m.Checks,
		m.CheckDuration,
		m.Reconciliations,
		m.Corruptions,
		m.TimeSourceRequests,
		m.StoreWrites,
		m.RemainingDays,
	}
	var errs []error
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	return m, nil
}

// RecordCheck counts a validity check.
func (m *Metrics) RecordCheck(valid bool) {
	if m == nil {
		return
	}
	result := ResultInvalid
	if valid {
		result = ResultValid
	}
	m.Checks.WithLabelValues(result).Inc()
}

// RecordReconciliation counts a full reconciliation and its duration.
func (m *Metrics) RecordReconciliation(seconds float64) {
	if m == nil {
		return
	}
	m.Reconciliations.Inc()
	m.CheckDuration.Observe(seconds)
}

// RecordCorruption counts a transition to corrupted.
func (m *Metrics) RecordCorruption(reason string) {
	if m == nil {
		return
	}
	m.Corruptions.WithLabelValues(reason).Inc()
}

// RecordTimeSourceRequest counts a time source fetch outcome.
func (m *Metrics) RecordTimeSourceRequest(result string) {
	if m == nil {
		return
	}
	m.TimeSourceRequests.WithLabelValues(result).Inc()
}

// RecordStoreWrite counts a write attempt against a backend.
func (m *Metrics) RecordStoreWrite(backend, result string) {
	if m == nil {
		return
	}
	m.StoreWrites.WithLabelValues(backend, result).Inc()
}

// SetRemainingDays publishes the remaining trial days.
func (m *Metrics) SetRemainingDays(days float64) {
	if m == nil {
		return
	}
	m.RemainingDays.Set(days)
}
