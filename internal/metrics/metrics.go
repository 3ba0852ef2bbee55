package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var durationBuckets = []float64{
	0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1.2, 2, 3, 5, 8, 13, 30,
}

// Metrics holds the gateway's collectors on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	ChargesTotal        *prometheus.CounterVec
	ChargeDuration      *prometheus.HistogramVec
	VerificationsTotal  *prometheus.CounterVec
	VerifyDuration      *prometheus.HistogramVec
	WebhooksTotal       *prometheus.CounterVec
	RateLimitedTotal    prometheus.Counter
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ChargesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "payment",
				Name:      "charges_total",
				Help:      "Charge attempts per provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		ChargeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "payment",
				Name:      "charge_duration_seconds",
				Help:      "Provider charge call latency",
				Buckets:   durationBuckets,
			},
			[]string{"provider", "outcome"},
		),
		VerificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "payment",
				Name:      "verifications_total",
				Help:      "Verification calls per provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		VerifyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "payment",
				Name:      "verify_duration_seconds",
				Help:      "Provider verification call latency",
				Buckets:   durationBuckets,
			},
			[]string{"provider", "outcome"},
		),
		WebhooksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "payment",
				Name:      "webhooks_total",
				Help:      "Inbound webhooks per provider and result",
			},
			[]string{"provider", "result"},
		),
		RateLimitedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "payment",
				Name:      "rate_limited_total",
				Help:      "Charge requests rejected by the rate limiter",
			},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "http",
				Name:      "requests_total",
				Help:      "HTTP requests by route, method and status",
			},
			[]string{"route", "method", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency by route",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
	}

	m.registry.MustRegister(
		m.ChargesTotal, m.ChargeDuration,
		m.VerificationsTotal, m.VerifyDuration,
		m.WebhooksTotal, m.RateLimitedTotal,
		m.HTTPRequestsTotal, m.HTTPRequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCharge counts every attempt; skipped attempts carry no latency.
func (m *Metrics) ObserveCharge(provider, outcome string, elapsed time.Duration) {
	m.ChargesTotal.WithLabelValues(provider, outcome).Inc()
	if elapsed > 0 {
		m.ChargeDuration.WithLabelValues(provider, outcome).Observe(elapsed.Seconds())
	}
}

func (m *Metrics) ObserveVerify(provider, outcome string, elapsed time.Duration) {
	m.VerificationsTotal.WithLabelValues(provider, outcome).Inc()
	m.VerifyDuration.WithLabelValues(provider, outcome).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveWebhook(provider, result string) {
	m.WebhooksTotal.WithLabelValues(provider, result).Inc()
}

func (m *Metrics) IncRateLimited() {
	m.RateLimitedTotal.Inc()
}

func (m *Metrics) ObserveHTTP(route, method, status string, elapsed time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(route, method, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}
