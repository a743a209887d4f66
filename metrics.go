package authcore

import "github.com/prometheus/client_golang/prometheus"

// metrics holds the Engine's Prometheus counters. A nil *metrics is valid
// and records nothing.
type metrics struct {
	flowOutcomes *prometheus.CounterVec
	denials      *prometheus.CounterVec
	rateLimits   *prometheus.CounterVec
}

// newMetrics builds and registers the counters. Returns nil when metrics
// are disabled. Registration targets the default registerer, so enable
// metrics at most once per process.
func newMetrics(cfg MetricsConfig) *metrics {
	if !cfg.Enabled {
		return nil
	}

	m := &metrics{
		flowOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_flow_total",
				Help: "Authentication flow outcomes.",
			},
			[]string{"flow", "outcome"},
		),
		denials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_denials_total",
				Help: "Authentication and authorization denials by guard.",
			},
			[]string{"guard"},
		),
		rateLimits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_rate_limited_total",
				Help: "Requests rejected by the rate limiter, by path.",
			},
			[]string{"path"},
		),
	}
	prometheus.MustRegister(m.flowOutcomes, m.denials, m.rateLimits)
	return m
}

func (m *metrics) flow(name string, success bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.flowOutcomes.WithLabelValues(name, outcome).Inc()
}

func (m *metrics) deny(guard string) {
	if m == nil {
		return
	}
	m.denials.WithLabelValues(guard).Inc()
}

func (m *metrics) rateLimited(path string) {
	if m == nil {
		return
	}
	m.rateLimits.WithLabelValues(path).Inc()
}
