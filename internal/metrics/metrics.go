// Package metrics registers the Prometheus collectors exposed at /metrics,
// matching cmd/server/main.go's existing promhttp mount.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every collector the core exposes.
type Registry struct {
	ActiveConnections  prometheus.Gauge
	MessagesSent       *prometheus.CounterVec
	MessagesDropped    *prometheus.CounterVec
	CacheHits          *prometheus.CounterVec
	CacheMisses        *prometheus.CounterVec
	AITasksActive      prometheus.Gauge
	AITasksQueued      prometheus.Gauge
	AITasksCancelled   prometheus.Counter
	EventBusForwarded  *prometheus.CounterVec
	LRUEvictions       prometheus.Counter
}

// NewRegistry builds and registers every collector on the given registerer.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "core_active_connections",
			Help: "Number of live websocket connections.",
		}),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "core_messages_sent_total",
			Help: "Messages successfully delivered to a device.",
		}, []string{"event"}),
		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "core_messages_dropped_total",
			Help: "Messages that failed to deliver to a device.",
		}, []string{"reason"}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "core_cache_hits_total",
			Help: "Cache reads that found a value.",
		}, []string{"key_family"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "core_cache_misses_total",
			Help: "Cache reads that found nothing.",
		}, []string{"key_family"}),
		AITasksActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "core_ai_tasks_active",
			Help: "Chats with a currently active AI task.",
		}),
		AITasksQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "core_ai_tasks_queued",
			Help: "User turns waiting behind an active AI task.",
		}),
		AITasksCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "core_ai_tasks_cancelled_total",
			Help: "AI tasks explicitly cancelled by a client.",
		}),
		EventBusForwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "core_event_bus_forwarded_total",
			Help: "Worker events forwarded to a device by an event-bus listener.",
		}, []string{"channel"}),
		LRUEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "core_ai_cache_lru_evictions_total",
			Help: "Chats evicted from the per-user AI-cache LRU.",
		}),
	}

	reg.MustRegister(
		r.ActiveConnections,
		r.MessagesSent,
		r.MessagesDropped,
		r.CacheHits,
		r.CacheMisses,
		r.AITasksActive,
		r.AITasksQueued,
		r.AITasksCancelled,
		r.EventBusForwarded,
		r.LRUEvictions,
	)

	return r
}
