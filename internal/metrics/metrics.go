// Package metrics exposes Prometheus metrics for the voice engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voiceloop_active_sessions",
		Help: "Number of active voice sessions",
	})

	sessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voiceloop_sessions_total",
		Help: "Total number of voice sessions started",
	})

	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voiceloop_turns_total",
		Help: "Total number of finalized conversation turns",
	}, []string{"role"})

	audioBytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voiceloop_audio_bytes_sent_total",
		Help: "Total microphone audio bytes forwarded to the backend",
	})

	audioBytesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voiceloop_audio_bytes_received_total",
		Help: "Total synthesized audio bytes received from the backend",
	})

	interruptionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voiceloop_interruptions_total",
		Help: "Total barge-in interruptions observed",
	})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voiceloop_errors_total",
		Help: "Total errors by component",
	}, []string{"component"})

	turnLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voiceloop_turn_latency_seconds",
		Help:    "Latency from user speech end to assistant turn completion",
		Buckets: []float64{0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})
)

// SessionStarted records a new session.
func SessionStarted() {
	sessionsTotal.Inc()
	activeSessions.Inc()
}

// SessionEnded records a session teardown.
func SessionEnded() {
	activeSessions.Dec()
}

// TurnFinalized records a finalized conversation turn by role.
func TurnFinalized(role string) {
	turnsTotal.WithLabelValues(role).Inc()
}

// AudioSent records outbound microphone audio.
func AudioSent(bytes int) {
	audioBytesSent.Add(float64(bytes))
}

// AudioReceived records inbound synthesized audio.
func AudioReceived(bytes int) {
	audioBytesReceived.Add(float64(bytes))
}

// Interruption records a barge-in event.
func Interruption() {
	interruptionsTotal.Inc()
}

// RecordError records an error attributed to a component.
func RecordError(component string) {
	errorsTotal.WithLabelValues(component).Inc()
}

// TurnLatency records end-to-end turn latency.
func TurnLatency(d time.Duration) {
	turnLatency.Observe(d.Seconds())
}
