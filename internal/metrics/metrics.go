package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Request results recorded by the webhook handler.
const (
	ResultForwarded = "forwarded"
	ResultBadMethod = "bad_method"
	ResultForbidden = "forbidden"
	ResultBadJSON   = "bad_json"
	ResultTooLarge  = "too_large"
)

// Enrichment results.
const (
	EnrichOK      = "ok"
	EnrichFailed  = "failed"
	EnrichSkipped = "skipped"
)

// Metrics holds the relay's collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	requests        *prometheus.CounterVec
	deliveries      *prometheus.CounterVec
	enrichment      *prometheus.CounterVec
	deliverySeconds prometheus.Histogram
}

// New creates and registers all collectors, plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "asc_lark",
			Name:      "webhook_requests_total",
			Help:      "Inbound webhook requests by outcome",
		}, []string{"result"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "asc_lark",
			Name:      "deliveries_total",
			Help:      "Cards posted to Lark by outcome",
		}, []string{"result"}),
		enrichment: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "asc_lark",
			Name:      "enrichment_total",
			Help:      "App metadata lookups by outcome",
		}, []string{"result"}),
		deliverySeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "asc_lark",
			Name:      "delivery_seconds",
			Help:      "Time spent posting a card to Lark",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	m.registry.MustRegister(
		m.requests,
		m.deliveries,
		m.enrichment,
		m.deliverySeconds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Request counts one inbound request.
func (m *Metrics) Request(result string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(result).Inc()
}

// Enrichment counts one metadata lookup.
func (m *Metrics) Enrichment(result string) {
	if m == nil {
		return
	}
	m.enrichment.WithLabelValues(result).Inc()
}

// Delivery counts one Lark post and observes its duration.
func (m *Metrics) Delivery(ok bool, took time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.deliveries.WithLabelValues(result).Inc()
	m.deliverySeconds.Observe(took.Seconds())
}
