// Package metrics exposes the Prometheus collectors shared by the API, the
// reconcile orchestrator and the subscription client.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "timetrack"

type Metrics struct {
	ProviderRequests *prometheus.CounterVec
	Mutations        *prometheus.CounterVec
	Reconciliations  *prometheus.CounterVec
	WebhookEvents    *prometheus.CounterVec
	HTTPRequests     *prometheus.HistogramVec
	CacheLookups     *prometheus.CounterVec
	Fetches          *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers all collectors on reg. Passing a fresh prometheus.NewRegistry()
// keeps tests isolated from the default registry.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ProviderRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_provider_requests_total",
			Help:      "Calls made to the payment provider by operation and result.",
		}, []string{"op", "result"}),
		Mutations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_mutations_total",
			Help:      "Checkout, cancel and plan change requests by result.",
		}, []string{"op", "result"}),
		Reconciliations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_reconciliations_total",
			Help:      "Local subscription rows rewritten from provider state.",
		}, []string{"source", "result"}),
		WebhookEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Stripe webhook events received by type.",
		}, []string{"type"}),
		HTTPRequests: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_cache_lookups_total",
			Help:      "Subscription cache lookups by result.",
		}, []string{"result"}),
		Fetches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_fetches_total",
			Help:      "Coordinated subscription fetches by outcome.",
		}, []string{"result"}),
		gatherer: reg,
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ProviderCall(op string, err error) {
	if m == nil {
		return
	}
	m.ProviderRequests.WithLabelValues(op, result(err)).Inc()
}

func (m *Metrics) Mutation(op string, err error) {
	if m == nil {
		return
	}
	m.Mutations.WithLabelValues(op, result(err)).Inc()
}

func (m *Metrics) Reconciled(source string, err error) {
	if m == nil {
		return
	}
	m.Reconciliations.WithLabelValues(source, result(err)).Inc()
}

func (m *Metrics) Webhook(eventType string) {
	if m == nil {
		return
	}
	m.WebhookEvents.WithLabelValues(eventType).Inc()
}

func (m *Metrics) CacheLookup(outcome string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Fetch(outcome string) {
	if m == nil {
		return
	}
	m.Fetches.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveHTTP(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, status).Observe(d.Seconds())
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
