package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Timed wraps fn so every call is observed on hist. It replaces the
// decorator-style timing used around eligibility and draft phases.
func Timed[A, R any](hist prometheus.Observer, fn func(context.Context, A) (R, error)) func(context.Context, A) (R, error) {
	return func(ctx context.Context, arg A) (R, error) {
		start := time.Now()
		defer func() { hist.Observe(time.Since(start).Seconds()) }()
		return fn(ctx, arg)
	}
}

// ObservePhase records the time since start on the phase label of vec.
func ObservePhase(vec *prometheus.HistogramVec, phase string, start time.Time) {
	vec.WithLabelValues(phase).Observe(time.Since(start).Seconds())
}
