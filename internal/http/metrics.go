package http

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry     *prometheus.Registry
	clockEvents  *prometheus.CounterVec
	odometer     *prometheus.CounterVec
	authAttempts *prometheus.CounterVec
}

// NewMetrics uses its own registry so several servers can live in one
// process.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		clockEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldops_clock_events_total",
			Help: "Clock-in and clock-out writes.",
		}, []string{"action"}),
		odometer: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldops_odometer_submissions_total",
			Help: "Odometer readings submitted, by outcome.",
		}, []string{"outcome"}),
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldops_auth_attempts_total",
			Help: "Sign-up, login, refresh and logout attempts, by outcome.",
		}, []string{"action", "outcome"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.clockEvents,
		m.odometer,
		m.authAttempts,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) clockEvent(action string) {
	m.clockEvents.WithLabelValues(action).Inc()
}

func (m *Metrics) odometerSubmission(outcome string) {
	m.odometer.WithLabelValues(outcome).Inc()
}

func (m *Metrics) authAttempt(action, outcome string) {
	m.authAttempts.WithLabelValues(action, outcome).Inc()
}
