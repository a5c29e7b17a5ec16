package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts process-call cache and window outcomes.
type Metrics struct {
	CacheHits          prometheus.Counter
	CacheMisses        prometheus.Counter
	RateLimitRejected  prometheus.Counter
	DownstreamFailures prometheus.Counter
	WindowReleases     prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "patientsync_process_cache_hits_total",
			Help: "Process calls answered from the result cache",
		}),
		CacheMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "patientsync_process_cache_misses_total",
			Help: "Process calls that missed the result cache",
		}),
		RateLimitRejected: f.NewCounter(prometheus.CounterOpts{
			Name: "patientsync_process_rate_limited_total",
			Help: "Process calls rejected because the call window was full",
		}),
		DownstreamFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "patientsync_process_downstream_failures_total",
			Help: "Process calls the registry failed",
		}),
		WindowReleases: f.NewCounter(prometheus.CounterOpts{
			Name: "patientsync_process_window_releases_total",
			Help: "Window reservations returned after a failed downstream call",
		}),
	}
}

func (m *Metrics) IncrementCacheHit() {
	m.CacheHits.Inc()
}

func (m *Metrics) IncrementCacheMiss() {
	m.CacheMisses.Inc()
}

func (m *Metrics) IncrementRateLimited() {
	m.RateLimitRejected.Inc()
}

func (m *Metrics) IncrementDownstreamFailure() {
	m.DownstreamFailures.Inc()
}

func (m *Metrics) IncrementRelease() {
	m.WindowReleases.Inc()
}
