// Package metrics exposes call orchestration counters in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeSuccess   = "success"
	OutcomeNoCall    = "no_call"
	OutcomeTransient = "transient"
	OutcomeUnknown   = "unknown"
)

// Metrics uses a private registry so tests and multiple instances never
// collide on the default one.
type Metrics struct {
	registry  *prometheus.Registry
	namespace string

	JoinAttemptsTotal *prometheus.CounterVec
	PlayFailuresTotal *prometheus.CounterVec
	CallsStartedTotal prometheus.Counter
	CallsStoppedTotal prometheus.Counter
	CallsActive       prometheus.Gauge
	StreamEndsTotal   *prometheus.CounterVec
}

func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "crab_voice"
	}

	registry := prometheus.NewRegistry()

	joinAttempts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "join_attempts_total",
			Help:      "Voice chat join attempts by outcome",
		},
		[]string{"outcome"},
	)
	playFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "play_failures_total",
			Help:      "Play invocations that ended without streaming, by failure kind",
		},
		[]string{"kind"},
	)
	callsStarted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "calls_started_total",
		Help:      "Calls that went from idle to active",
	})
	callsStopped := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "calls_stopped_total",
		Help:      "Active calls that were stopped",
	})
	callsActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "calls_active",
		Help:      "Chats with an active call",
	})
	streamEnds := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_end_notifications_total",
			Help:      "Stream end notifications by handling result",
		},
		[]string{"result"},
	)

	registry.MustRegister(
		joinAttempts,
		playFailures,
		callsStarted,
		callsStopped,
		callsActive,
		streamEnds,
	)

	return &Metrics{
		registry:          registry,
		namespace:         namespace,
		JoinAttemptsTotal: joinAttempts,
		PlayFailuresTotal: playFailures,
		CallsStartedTotal: callsStarted,
		CallsStoppedTotal: callsStopped,
		CallsActive:       callsActive,
		StreamEndsTotal:   streamEnds,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RegisterAveragePing exposes fn as the pool latency gauge.
func (m *Metrics) RegisterAveragePing(fn func() float64) error {
	return m.registry.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Name:      "pool_average_ping_ms",
			Help:      "Mean measured round trip across pooled assistants",
		},
		fn,
	))
}

func (m *Metrics) JoinAttempt(outcome string) {
	m.JoinAttemptsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) PlayFailure(kind string) {
	m.PlayFailuresTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) CallStarted() {
	m.CallsStartedTotal.Inc()
	m.CallsActive.Inc()
}

func (m *Metrics) CallStopped() {
	m.CallsStoppedTotal.Inc()
	m.CallsActive.Dec()
}

func (m *Metrics) StreamEnd(result string) {
	m.StreamEndsTotal.WithLabelValues(result).Inc()
}
