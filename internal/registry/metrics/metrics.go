package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics observes outbound registry calls.
type Metrics struct {
	CallDuration *prometheus.HistogramVec
	CallFailures *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CallDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "patientsync_registry_call_duration_seconds",
			Help:    "Latency of calls to the third-party patient registry",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"operation"}),
		CallFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "patientsync_registry_call_failures_total",
			Help: "Registry calls that failed, by operation and error category",
		}, []string{"operation", "category"}),
	}
}

func (m *Metrics) ObserveCall(operation string, d time.Duration) {
	m.CallDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *Metrics) IncrementFailure(operation, category string) {
	m.CallFailures.WithLabelValues(operation, category).Inc()
}
