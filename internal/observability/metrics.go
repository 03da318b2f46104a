package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ActiveSessions    prometheus.Gauge
	SessionEvents     *prometheus.CounterVec
	Ticks             *prometheus.CounterVec
	Fallbacks         *prometheus.CounterVec
	Retries           *prometheus.CounterVec
	GenerationLatency prometheus.Histogram
	WSMessages        *prometheus.CounterVec
	DroppedEvents     prometheus.Counter

	Latency *LatencyWindow
}

func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of calls with a live coaching session.",
		}),
		SessionEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		Ticks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Coaching ticks by trigger reason and outcome.",
		}, []string{"reason", "outcome"}),
		Fallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Deterministic fallbacks by kind.",
		}, []string{"kind"}),
		Retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_retries_total",
			Help:      "Generation retries by validation rule.",
		}, []string{"kind"}),
		GenerationLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_latency_ms",
			Help:      "Latency of completion backend calls in milliseconds.",
			Buckets:   []float64{100, 200, 300, 500, 700, 900, 1200, 2000, 4000, 8000},
		}),
		WSMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		DroppedEvents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_events_total",
			Help:      "Events dropped because a subscriber buffer was full.",
		}),
		Latency: NewLatencyWindow(256),
	}
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
	m.SessionEvents.WithLabelValues("start").Inc()
}

// SessionEnded records a stop; event is "stop" or "expire".
func (m *Metrics) SessionEnded(event string) {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
	m.SessionEvents.WithLabelValues(event).Inc()
}

// ObserveSessionEvent counts a non-lifecycle session event such as a failed
// persistence write.
func (m *Metrics) ObserveSessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveTick(reason, outcome string) {
	if m == nil {
		return
	}
	m.Ticks.WithLabelValues(reason, outcome).Inc()
}

func (m *Metrics) ObserveFallback(kind string) {
	if m == nil {
		return
	}
	m.Fallbacks.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveRetry(kind string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveGeneration(d time.Duration) {
	if m == nil {
		return
	}
	m.GenerationLatency.Observe(float64(d.Milliseconds()))
	m.Latency.Observe(StageGeneration, float64(d.Milliseconds()))
}

// ObserveStage records a latency sample in the rolling window only.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.Latency.Observe(stage, float64(d.Milliseconds()))
}

func (m *Metrics) ObserveWSMessage(direction, typ string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, typ).Inc()
}

func (m *Metrics) ObserveDroppedEvent() {
	if m == nil {
		return
	}
	m.DroppedEvents.Inc()
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
