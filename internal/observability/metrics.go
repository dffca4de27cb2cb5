// Package observability exposes Prometheus metrics for the event loop and
// its supporting services.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wardenhq/warden/pkg/models"
)

// Metrics collects the engine-level Prometheus series. Create once at
// startup and share across components.
type Metrics struct {
	// StepCounter counts executed steps.
	// Labels: status (ok|failed)
	StepCounter *prometheus.CounterVec

	// StepCredits accumulates step credit cost, in credits.
	StepCredits prometheus.Counter

	// ToolCallCounter counts tool invocations.
	// Labels: tool, status (ok|rejected|error)
	ToolCallCounter *prometheus.CounterVec

	// CompletionCounter counts LLM completions.
	// Labels: provider, model, status (success|error)
	CompletionCounter *prometheus.CounterVec

	// CompletionDuration measures completion latency in seconds.
	// Labels: provider, model
	CompletionDuration *prometheus.HistogramVec

	// MessageCounter counts messages by channel and direction.
	// Labels: channel, direction (inbound|outbound)
	MessageCounter *prometheus.CounterVec

	// ProactiveTriggers counts engine-initiated wake-ups.
	ProactiveTriggers prometheus.Counter

	// ExpiredAgents counts soft-expiration transitions.
	ExpiredAgents prometheus.Counter

	// MarkerCounter counts system markers written by the engine.
	// Labels: code
	MarkerCounter *prometheus.CounterVec
}

// NewMetrics registers all series with the given registerer. Pass
// prometheus.DefaultRegisterer in production; tests use a fresh registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		StepCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_steps_total",
				Help: "Executed event-loop steps by status",
			},
			[]string{"status"},
		),
		StepCredits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_step_credits_total",
				Help: "Credits consumed by executed steps",
			},
		),
		ToolCallCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_tool_calls_total",
				Help: "Tool invocations by tool and status",
			},
			[]string{"tool", "status"},
		),
		CompletionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_completions_total",
				Help: "LLM completions by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		CompletionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_completion_duration_seconds",
				Help:    "LLM completion latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		MessageCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_messages_total",
				Help: "Messages by channel and direction",
			},
			[]string{"channel", "direction"},
		),
		ProactiveTriggers: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_proactive_triggers_total",
				Help: "Engine-initiated wake-ups",
			},
		),
		ExpiredAgents: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_expired_agents_total",
				Help: "Soft-expiration transitions applied by the sweep",
			},
		),
		MarkerCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_system_markers_total",
				Help: "System markers written by the engine, by code",
			},
			[]string{"code"},
		),
	}
}

// RecordStep records one executed step and its credit cost.
func (m *Metrics) RecordStep(failed bool, creditsCost int64) {
	if m == nil {
		return
	}
	status := "ok"
	if failed {
		status = "failed"
	}
	m.StepCounter.WithLabelValues(status).Inc()
	m.StepCredits.Add(float64(creditsCost) / float64(models.CreditUnit))
}

// RecordToolCall records one tool invocation.
func (m *Metrics) RecordToolCall(tool, status string) {
	if m == nil {
		return
	}
	m.ToolCallCounter.WithLabelValues(tool, status).Inc()
}

// RecordCompletion records one LLM completion.
func (m *Metrics) RecordCompletion(provider, model, status string, seconds float64) {
	if m == nil {
		return
	}
	m.CompletionCounter.WithLabelValues(provider, model, status).Inc()
	m.CompletionDuration.WithLabelValues(provider, model).Observe(seconds)
}

// RecordMessage records one message.
func (m *Metrics) RecordMessage(channel models.Channel, outbound bool) {
	if m == nil {
		return
	}
	direction := "inbound"
	if outbound {
		direction = "outbound"
	}
	m.MessageCounter.WithLabelValues(string(channel), direction).Inc()
}

// RecordMarker records one system marker write.
func (m *Metrics) RecordMarker(code models.SystemStepCode) {
	if m == nil {
		return
	}
	m.MarkerCounter.WithLabelValues(string(code)).Inc()
}

// RecordProactiveTrigger records one proactive wake-up.
func (m *Metrics) RecordProactiveTrigger() {
	if m == nil {
		return
	}
	m.ProactiveTriggers.Inc()
}

// RecordExpirations records soft-expiration transitions.
func (m *Metrics) RecordExpirations(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ExpiredAgents.Add(float64(n))
}

// RegisterQueueDepth exposes the work queue depth as a gauge.
func RegisterQueueDepth(reg prometheus.Registerer, depth func() int) {
	promauto.With(reg).NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "warden_queue_depth",
			Help: "Agents waiting in the process queue",
		},
		func() float64 { return float64(depth()) },
	)
}
