// Package prometheus exports blob backend call metrics through
// prometheus/client_golang.
package prometheus

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder counts backend calls by driver, operation and outcome, and
// records their latency.
type Recorder struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewRecorder registers the collectors with reg. Registering twice on the
// same registry reuses the collectors already there.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	calls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blobkit",
		Name:      "operations_total",
		Help:      "Blob backend calls by driver, operation and outcome.",
	}, []string{"driver", "operation", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "blobkit",
		Name:      "operation_duration_seconds",
		Help:      "Blob backend call latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"driver", "operation"})

	var err error
	if calls, err = register(reg, calls); err != nil {
		return nil, err
	}
	if duration, err = register(reg, duration); err != nil {
		return nil, err
	}
	return &Recorder{calls: calls, duration: duration}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Observe implements blob.MetricsRecorder.
func (r *Recorder) Observe(_ context.Context, driver, operation, outcome string, d time.Duration) {
	if operation == "" {
		return
	}
	r.calls.WithLabelValues(driver, operation, outcome).Inc()
	r.duration.WithLabelValues(driver, operation).Observe(d.Seconds())
}
