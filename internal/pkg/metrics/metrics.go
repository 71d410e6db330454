package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the service's Prometheus collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ledgerOps      *prometheus.CounterVec
	ledgerCredits  *prometheus.CounterVec
	webhookEvents  *prometheus.CounterVec
	holdsReleased  prometheus.Counter
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	inferenceCalls *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	m := &Metrics{
		ledgerOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Ledger operations by kind and outcome.",
		}, []string{"op", "outcome"}),
		ledgerCredits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_credits_moved_total",
			Help: "Credits moved by committed ledger entries, by entry type.",
		}, []string{"type"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Webhook deliveries by provider, event type and outcome.",
		}, []string{"provider", "type", "outcome"}),
		holdsReleased: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_expired_holds_released_total",
			Help: "Holds released by the expiry sweeper.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		inferenceCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inference_requests_total",
			Help: "Image inference calls by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.ledgerOps, m.ledgerCredits, m.webhookEvents, m.holdsReleased,
		m.httpRequests, m.httpDuration, m.inferenceCalls)
	return m
}

// LedgerOp counts a ledger operation; amount is recorded only for successes.
func (m *Metrics) LedgerOp(op, outcome string, amount int64) {
	if m == nil {
		return
	}
	m.ledgerOps.WithLabelValues(normalizeLabel(op), normalizeLabel(outcome)).Inc()
	if outcome == "ok" && amount > 0 {
		m.ledgerCredits.WithLabelValues(normalizeLabel(op)).Add(float64(amount))
	}
}

func (m *Metrics) WebhookEvent(provider, eventType, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(normalizeLabel(provider), normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

func (m *Metrics) HoldsReleased(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.holdsReleased.Add(float64(n))
}

func (m *Metrics) HTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	route = normalizeLabel(route)
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) InferenceCall(outcome string) {
	if m == nil {
		return
	}
	m.inferenceCalls.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
