package worker

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dreamware/schur/internal/directory"
	"github.com/dreamware/schur/internal/kernel"
	"github.com/dreamware/schur/internal/matrix"
)

const (
	outcomeOK        = "ok"
	outcomeNumerical = "numerical_failure"
	outcomeInvalid   = "invalid_matrix"
	outcomeNoWorkers = "no_workers"
	outcomeRemote    = "remote_failure"
	outcomeError     = "error"
)

// Metrics are the Prometheus collectors a worker maintains.
type Metrics struct {
	registry *prometheus.Registry

	calls        *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	cacheLookups *prometheus.CounterVec
	delegations  *prometheus.CounterVec
}

// NewMetrics registers the worker collectors on reg. A nil reg gets a fresh
// private registry so that several in-process services never collide.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		calls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "schur_worker_calls_total",
			Help: "Worker operations by outcome",
		}, []string{"op", "outcome"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "schur_worker_call_duration_seconds",
			Help:    "Wall time of worker operations, including delegated sub-calls",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
		}, []string{"op"}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "schur_worker_cache_lookups_total",
			Help: "Cache lookups by kind and result",
		}, []string{"kind", "result"}),
		delegations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "schur_worker_delegations_total",
			Help: "Sub-problems sent to peers",
		}, []string{"op"}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) observeCall(op string, start time.Time, err error) {
	m.calls.WithLabelValues(op, outcome(err)).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) cacheLookup(kind string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(kind, result).Inc()
}

func outcome(err error) string {
	var remote *RemoteError
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, kernel.ErrNumericalFailure):
		return outcomeNumerical
	case errors.Is(err, matrix.ErrInvalidSize), errors.Is(err, matrix.ErrShape):
		return outcomeInvalid
	case errors.Is(err, directory.ErrNoWorkersAvailable):
		return outcomeNoWorkers
	case errors.As(err, &remote):
		return outcomeRemote
	default:
		return outcomeError
	}
}
