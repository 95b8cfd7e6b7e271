package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetricsRecorder exports operation outcomes as Prometheus metrics:
//   - <namespace>_operations_total{operation,status}
//   - <namespace>_operation_duration_seconds{operation}
//   - <namespace>_samples_affected_total{operation}
type PrometheusMetricsRecorder struct {
	operations *prometheus.CounterVec
	durations  *prometheus.HistogramVec
	affected   *prometheus.CounterVec
}

// NewPrometheusMetricsRecorder registers the recorder's collectors on reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewPrometheusMetricsRecorder(namespace string, reg prometheus.Registerer) *PrometheusMetricsRecorder {
	if namespace == "" {
		namespace = "samplecore"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &PrometheusMetricsRecorder{
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Service operations by outcome.",
		}, []string{"operation", "status"}),
		durations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Service operation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"operation"}),
		affected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_affected_total",
			Help:      "Samples moved, cloned, destroyed or updated by bulk operations.",
		}, []string{"operation"}),
	}
}

// Observe implements MetricsRecorder.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := AuditStatusError
	if success {
		status = AuditStatusSuccess
	}
	r.operations.WithLabelValues(operation, string(status)).Inc()
	r.durations.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveAffected adds n to the affected-samples counter of operation.
func (r *PrometheusMetricsRecorder) ObserveAffected(_ context.Context, operation string, n int) {
	if n <= 0 {
		return
	}
	r.affected.WithLabelValues(operation).Add(float64(n))
}

// AffectedRecorder is implemented by metrics recorders that also count the
// samples touched by bulk operations.
type AffectedRecorder interface {
	ObserveAffected(ctx context.Context, operation string, n int)
}
