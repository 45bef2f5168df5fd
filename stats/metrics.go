package stats

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "chimebot"

// Metrics groups the Prometheus instruments used by the bot.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	CommandInvocations *prometheus.CounterVec
	ResponseFailures   *prometheus.CounterVec
	VoiceSessions      prometheus.Gauge
	VoiceMinutes       prometheus.Counter
	GatewayReady       prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CommandInvocations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_invocations_total",
			Help:      "Dispatched commands by name.",
		}, []string{"command"}),
		ResponseFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "response_failures_total",
			Help:      "Responses or registrations that failed to reach Discord, by kind.",
		}, []string{"kind"}),
		VoiceSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "voice_sessions_connected",
			Help:      "Number of connected voice sessions.",
		}),
		VoiceMinutes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_minutes_total",
			Help:      "Periodic voice ticks across all sessions.",
		}),
		GatewayReady: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_ready_total",
			Help:      "Ready events received from the gateway.",
		}),
	}
}

func (m *Metrics) ObserveCommand(name string) {
	if m == nil {
		return
	}
	m.CommandInvocations.WithLabelValues(name).Inc()
}

func (m *Metrics) ObserveFailure(kind string) {
	if m == nil {
		return
	}
	m.ResponseFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveVoiceTick() {
	if m == nil {
		return
	}
	m.VoiceMinutes.Inc()
}

func (m *Metrics) VoiceConnected() {
	if m == nil {
		return
	}
	m.VoiceSessions.Inc()
}

func (m *Metrics) VoiceDisconnected() {
	if m == nil {
		return
	}
	m.VoiceSessions.Dec()
}

func (m *Metrics) ObserveReady() {
	if m == nil {
		return
	}
	m.GatewayReady.Inc()
}
