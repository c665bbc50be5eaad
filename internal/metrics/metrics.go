// ABOUTME: Prometheus collectors for the ingestion pipeline and its integrations
// ABOUTME: All recording methods are safe to call on a nil *Metrics

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "jarvisp"

// Result label values.
const (
	ResultOK        = "ok"
	ResultError     = "error"
	ResultDuplicate = "duplicate"
	ResultIgnored   = "ignored"
	ResultFailed    = "failed"
)

// Metrics is the set of collectors registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	inboundEvents      *prometheus.CounterVec
	sessionsCreated    prometheus.Counter
	ledgerAppends      *prometheus.CounterVec
	generationRequests *prometheus.CounterVec
	generationLatency  *prometheus.HistogramVec
	replyFallbacks     prometheus.Counter
	outboundSends      *prometheus.CounterVec
	integrationReqs    *prometheus.CounterVec
	integrationAuth    *prometheus.CounterVec
	dedupeDuplicates   prometheus.Counter
}

// New creates a Metrics on a fresh registry that also carries the Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		inboundEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_events_total",
			Help:      "Inbound channel events by processing result.",
		}, []string{"result"}),
		sessionsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Conversations created by the session resolver.",
		}),
		ledgerAppends: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_appends_total",
			Help:      "Messages appended to the ledger by role.",
		}, []string{"role"}),
		generationRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_requests_total",
			Help:      "Generation backend requests by provider and result.",
		}, []string{"provider", "result"}),
		generationLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_latency_seconds",
			Help:      "Latency distribution for generation backend requests.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
		}, []string{"provider"}),
		replyFallbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reply_fallbacks_total",
			Help:      "Replies that used the fallback message.",
		}),
		outboundSends: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_sends_total",
			Help:      "Outbound channel sends by result.",
		}, []string{"result"}),
		integrationReqs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "integration_requests_total",
			Help:      "Authenticated external integration calls by client and result.",
		}, []string{"client", "result"}),
		integrationAuth: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "integration_auth_total",
			Help:      "External integration logins by client and result.",
		}, []string{"client", "result"}),
		dedupeDuplicates: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedupe_duplicates_total",
			Help:      "Inbound events dropped as redeliveries.",
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) InboundEvent(result string) {
	if m == nil {
		return
	}
	m.inboundEvents.WithLabelValues(result).Inc()
}

func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.sessionsCreated.Inc()
}

func (m *Metrics) LedgerAppend(role string) {
	if m == nil {
		return
	}
	m.ledgerAppends.WithLabelValues(role).Inc()
}

// GenerationRequest records one backend call and its latency.
func (m *Metrics) GenerationRequest(provider, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.generationRequests.WithLabelValues(provider, result).Inc()
	m.generationLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
}

func (m *Metrics) ReplyFallback() {
	if m == nil {
		return
	}
	m.replyFallbacks.Inc()
}

func (m *Metrics) OutboundSend(result string) {
	if m == nil {
		return
	}
	m.outboundSends.WithLabelValues(result).Inc()
}

func (m *Metrics) IntegrationRequest(client, result string) {
	if m == nil {
		return
	}
	m.integrationReqs.WithLabelValues(client, result).Inc()
}

func (m *Metrics) IntegrationAuth(client, result string) {
	if m == nil {
		return
	}
	m.integrationAuth.WithLabelValues(client, result).Inc()
}

func (m *Metrics) DuplicateDropped() {
	if m == nil {
		return
	}
	m.dedupeDuplicates.Inc()
}
