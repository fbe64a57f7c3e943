package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "azentyk"

// VoiceMetrics exposes counters/histograms for call turns and the trailing
// work that follows a terminal turn.
type VoiceMetrics struct {
	turnsTotal         *prometheus.CounterVec
	webhookLatency     *prometheus.HistogramVec
	jobsTotal          *prometheus.CounterVec
	jobDuration        *prometheus.HistogramVec
	enqueueFailures    *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec
	activeSessions     prometheus.Gauge
}

// NewVoiceMetrics registers the voice collectors on reg (default registerer when nil).
func NewVoiceMetrics(reg prometheus.Registerer) *VoiceMetrics {
	m := &VoiceMetrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "voice",
			Name:      "turns_total",
			Help:      "Call turns handled, by outcome",
		}, []string{"outcome"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "voice",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of voice webhook handling",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30},
		}, []string{"route"}),
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "processed_total",
			Help:      "Trailing appointment jobs processed, by kind and status",
		}, []string{"kind", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Trailing job processing time",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		enqueueFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "enqueue_failures_total",
			Help:      "Trailing jobs that could not be enqueued",
		}, []string{"kind"}),
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "sent_total",
			Help:      "Appointment notifications, by channel and status",
		}, []string{"channel", "status"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "voice",
			Name:      "active_sessions",
			Help:      "Calls currently holding session state in this process",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.turnsTotal,
		m.webhookLatency,
		m.jobsTotal,
		m.jobDuration,
		m.enqueueFailures,
		m.notificationsTotal,
		m.activeSessions,
	)
	return m
}

func (m *VoiceMetrics) ObserveTurn(outcome string) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(outcome).Inc()
}

func (m *VoiceMetrics) ObserveWebhookLatency(route string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(route).Observe(seconds)
}

func (m *VoiceMetrics) ObserveJob(kind, status string, seconds float64) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(kind, status).Inc()
	m.jobDuration.WithLabelValues(kind).Observe(seconds)
}

func (m *VoiceMetrics) ObserveEnqueueFailure(kind string) {
	if m == nil {
		return
	}
	m.enqueueFailures.WithLabelValues(kind).Inc()
}

func (m *VoiceMetrics) ObserveNotification(channel string, ok bool) {
	if m == nil {
		return
	}
	status := "sent"
	if !ok {
		status = "failed"
	}
	m.notificationsTotal.WithLabelValues(channel, status).Inc()
}

func (m *VoiceMetrics) SessionOpened() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

func (m *VoiceMetrics) SessionClosed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

// DialogueMetrics tracks model calls made by the dialogue engine.
type DialogueMetrics struct {
	modelLatency *prometheus.HistogramVec
	toolCalls    *prometheus.CounterVec
	reprompts    prometheus.Counter
}

// NewDialogueMetrics registers the dialogue collectors on reg (default registerer when nil).
func NewDialogueMetrics(reg prometheus.Registerer) *DialogueMetrics {
	m := &DialogueMetrics{
		modelLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dialogue",
			Name:      "model_latency_seconds",
			Help:      "Latency of dialogue model calls",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		}, []string{"outcome"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dialogue",
			Name:      "tool_calls_total",
			Help:      "Tool calls requested by the model, by tool and status",
		}, []string{"tool", "status"}),
		reprompts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dialogue",
			Name:      "reprompts_total",
			Help:      "Empty model replies that were re-prompted",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.modelLatency, m.toolCalls, m.reprompts)
	return m
}

func (m *DialogueMetrics) ObserveModelCall(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.modelLatency.WithLabelValues(outcome).Observe(seconds)
}

func (m *DialogueMetrics) ObserveToolCall(tool string, ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.toolCalls.WithLabelValues(tool, status).Inc()
}

func (m *DialogueMetrics) ObserveReprompt() {
	if m == nil {
		return
	}
	m.reprompts.Inc()
}
