package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
//
// All Observe/Inc helpers accept a nil receiver so components can run without
// instrumentation in tests.
type Metrics struct {
	ActiveSessions  prometheus.Gauge
	SessionEvents   *prometheus.CounterVec
	MemorySaves     *prometheus.CounterVec
	MemoryEntries   prometheus.Gauge
	CacheErrors     *prometheus.CounterVec
	RemoteOps       *prometheus.CounterVec
	ContextPrompts  *prometheus.CounterVec
	RetentionSweeps *prometheus.CounterVec
	WSMessages      *prometheus.CounterVec
}

// NewMetrics registers the service instruments on reg, or on the default
// registerer when reg is nil.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active chat sessions.",
		}),
		SessionEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		MemorySaves: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_saves_total",
			Help:      "Conversation memory saves by result.",
		}, []string{"result"}),
		MemoryEntries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_index_entries",
			Help:      "Conversation memories held in the in-process index.",
		}),
		CacheErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_errors_total",
			Help:      "Local cache failures by component and operation.",
		}, []string{"component", "op"}),
		RemoteOps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_ops_total",
			Help:      "Durable store operations by operation and result.",
		}, []string{"op", "result"}),
		ContextPrompts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "context_prompts_total",
			Help:      "Generated memory context blocks by outcome.",
		}, []string{"outcome"}),
		RetentionSweeps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_removed_total",
			Help:      "Conversation memories removed by reason.",
		}, []string{"reason"}),
		WSMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
	}
}

func (m *Metrics) ObserveSave(result string) {
	if m == nil {
		return
	}
	m.MemorySaves.WithLabelValues(result).Inc()
}

func (m *Metrics) SetMemoryEntries(n int) {
	if m == nil {
		return
	}
	m.MemoryEntries.Set(float64(n))
}

func (m *Metrics) ObserveCacheError(component, op string) {
	if m == nil {
		return
	}
	m.CacheErrors.WithLabelValues(component, op).Inc()
}

func (m *Metrics) ObserveRemote(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.RemoteOps.WithLabelValues(op, result).Inc()
}

// ObserveRemoteDropped counts remote work that never ran because the worker
// queue was full or already closed.
func (m *Metrics) ObserveRemoteDropped(op string) {
	if m == nil {
		return
	}
	m.RemoteOps.WithLabelValues(op, "dropped").Inc()
}

func (m *Metrics) ObserveContextPrompt(outcome string) {
	if m == nil {
		return
	}
	m.ContextPrompts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRemoved(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RetentionSweeps.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) ObserveSessionEvent(event string, active int) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
	m.ActiveSessions.Set(float64(active))
}

func (m *Metrics) ObserveWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// MetricsHandler serves the instruments registered on g, or the default
// gatherer when g is nil.
func MetricsHandler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
