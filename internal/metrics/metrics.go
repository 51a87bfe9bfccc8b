// Package metrics exposes Prometheus counters for registrations and
// deliveries.
package metrics

import (
	"net/http"

	vmetrics "github.com/VictoriaMetrics/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the service's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	gatherer      prometheus.Gatherer
	registrations *prometheus.CounterVec
	dispatches    *prometheus.CounterVec
	invalidTokens *prometheus.CounterVec
}

// New registers the collectors with reg. When reg also implements
// prometheus.Gatherer it is used to serve Handler.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		registrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "push_registrations_total",
				Help: "Registration API calls by operation and result",
			},
			[]string{"op", "result"},
		),
		dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "push_dispatch_total",
				Help: "Dispatch attempts by platform and outcome",
			},
			[]string{"platform", "outcome"},
		),
		invalidTokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "push_invalid_tokens_total",
				Help: "Tokens removed after the platform rejected them",
			},
			[]string{"platform"},
		),
	}
	reg.MustRegister(m.registrations, m.dispatches, m.invalidTokens)
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	} else {
		m.gatherer = prometheus.DefaultGatherer
	}
	return m
}

func (m *Metrics) Registration(op, result string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(op, result).Inc()
}

func (m *Metrics) Dispatch(platform, outcome string) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(platform, outcome).Inc()
}

func (m *Metrics) InvalidTokens(platform string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.invalidTokens.WithLabelValues(platform).Add(float64(n))
}

// Handler serves the push collectors followed by the VictoriaMetrics set
// the service base reports into, so a single GET /metrics scrape sees both.
// Register the collectors on a dedicated registry: the VictoriaMetrics
// exposition already carries the go_ and process_ series.
func (m *Metrics) Handler() http.Handler {
	var collectors http.Handler
	if m != nil {
		collectors = promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{DisableCompression: true})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if collectors != nil {
			collectors.ServeHTTP(w, r)
		} else {
			w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		}
		vmetrics.WritePrometheus(w, true)
	})
}
