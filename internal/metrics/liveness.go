// Package metrics provides Prometheus metrics for liveness sessions.
// Labels never carry tenant or session ids.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"

	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/liveness"
)

// Observation sources
const (
	SourceClient = "client"
	SourceServer = "server"
)

var (
	// SessionsStartedTotal counts sessions created.
	SessionsStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rekko_liveness_sessions_started_total",
		Help: "Total number of liveness sessions started.",
	})

	// SessionsEndedTotal counts sessions that reached a terminal status.
	SessionsEndedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rekko_liveness_sessions_ended_total",
		Help: "Total number of liveness sessions ended, by final status.",
	}, []string{"status"})

	// OutcomesTotal counts state machine outcomes. NoChange is not recorded.
	OutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rekko_liveness_outcomes_total",
		Help: "Total number of challenge outcomes, by kind and completed step.",
	}, []string{"outcome", "step"})

	// CapturesTotal counts selfie captures stored.
	CapturesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rekko_liveness_captures_total",
		Help: "Total number of selfie captures, by source and passive check result.",
	}, []string{"source", "result"})

	// ActiveSessions tracks sessions currently held in memory.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rekko_liveness_active_sessions",
		Help: "Current number of liveness sessions held in memory.",
	})

	// FrameDuration observes how long one frame or observation batch takes to process.
	FrameDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rekko_liveness_frame_duration_seconds",
		Help:    "Time spent processing one frame, by observation source.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"source"})

	// ProviderErrorsTotal counts failed provider calls.
	ProviderErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rekko_liveness_provider_errors_total",
		Help: "Total number of face provider failures, by operation.",
	}, []string{"operation"})
)

// RecordSessionStarted increments the started counter and the active gauge.
func RecordSessionStarted() {
	SessionsStartedTotal.Inc()
	ActiveSessions.Inc()
}

// RecordSessionEnded records the final status and decrements the active gauge.
func RecordSessionEnded(status string) {
	SessionsEndedTotal.WithLabelValues(status).Inc()
	ActiveSessions.Dec()
}

// RecordOutcome counts a state machine outcome. NoChange is ignored.
func RecordOutcome(out liveness.Outcome) {
	if !out.Changed() {
		return
	}
	step := ""
	if out.Kind != liveness.Reset {
		step = out.Step.String()
	}
	OutcomesTotal.WithLabelValues(out.Kind.String(), step).Inc()
}

// RecordCapture counts a stored capture.
func RecordCapture(source string, live bool) {
	result := "not_live"
	if live {
		result = "live"
	}
	CapturesTotal.WithLabelValues(source, result).Inc()
}

// ObserveFrame records frame processing latency.
func ObserveFrame(source string, d time.Duration) {
	FrameDuration.WithLabelValues(source).Observe(d.Seconds())
}

// RecordProviderError counts a failed provider call.
func RecordProviderError(operation string) {
	ProviderErrorsTotal.WithLabelValues(operation).Inc()
}

// GetActiveSessions returns the current value of the gauge (for testing).
func GetActiveSessions() float64 {
	var m dto.Metric
	if err := ActiveSessions.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}

// GetOutcomeCount returns the current counter value for an outcome (for testing).
func GetOutcomeCount(kind, step string) float64 {
	var m dto.Metric
	if err := OutcomesTotal.WithLabelValues(kind, step).Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}
