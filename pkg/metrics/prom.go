package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// promMetrics mirrors ingestion counters onto a Prometheus registry so the
// same signals are scrapeable alongside the JSON operator API.
type promMetrics struct {
	requests       *prometheus.CounterVec
	requestLatency prometheus.Histogram
	businessEvents *prometheus.CounterVec
	securityEvents *prometheus.CounterVec
	callbacks      *prometheus.CounterVec
}

func newPromMetrics(reg prometheus.Registerer) *promMetrics {
	factory := promauto.With(reg)

	return &promMetrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opspulse",
			Name:      "api_requests_total",
			Help:      "API requests recorded, by route and status class.",
		}, []string{"route", "status"}),
		requestLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "opspulse",
			Name:      "api_request_duration_ms",
			Help:      "API request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}),
		businessEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opspulse",
			Name:      "business_events_total",
			Help:      "Business lifecycle events recorded, by kind.",
		}, []string{"kind"}),
		securityEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opspulse",
			Name:      "security_events_total",
			Help:      "Security events recorded, by kind.",
		}, []string{"kind"}),
		callbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opspulse",
			Name:      "integration_callbacks_total",
			Help:      "Integration callbacks processed, by kind and outcome.",
		}, []string{"kind", "outcome"}),
	}
}

func (p *promMetrics) observeRequest(route string, durationMs float64, statusCode int) {
	statusClass := strconv.Itoa(statusCode/100) + "xx"

	p.requests.WithLabelValues(route, statusClass).Inc()
	p.requestLatency.Observe(durationMs)
}

func (p *promMetrics) observeCallback(kind string, succeeded bool) {
	outcome := "success"
	if !succeeded {
		outcome = "failure"
	}

	p.callbacks.WithLabelValues(kind, outcome).Inc()
}
