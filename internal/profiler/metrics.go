package profiler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// promMetrics exposes the profiler's live readings to Prometheus scrapers
// alongside the in-memory ring history used for alerting.
type promMetrics struct {
	cpuUsage           prometheus.Gauge
	memoryUsageMB      prometheus.Gauge
	websocketConns     prometheus.Gauge
	turnDuration       prometheus.Histogram
	messageLatency     prometheus.Histogram
	eventProcessDelay  prometheus.Histogram
	stateSerializeTime prometheus.Histogram
	alertsTriggered    *prometheus.CounterVec
}

func newPromMetrics(reg prometheus.Registerer) *promMetrics {
	factory := promauto.With(reg)
	return &promMetrics{
		cpuUsage: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_cpu_usage_percent",
			Help: "Smoothed process CPU usage percentage.",
		}),
		memoryUsageMB: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_memory_usage_mb",
			Help: "Heap memory in use, in megabytes.",
		}),
		websocketConns: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_websocket_connections",
			Help: "Current number of open WebSocket connections.",
		}),
		turnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bridge_turn_duration_seconds",
			Help:    "Wall-clock duration of completed turns.",
			Buckets: prometheus.DefBuckets,
		}),
		messageLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bridge_message_latency_seconds",
			Help:    "End-to-end latency of dispatched messages.",
			Buckets: prometheus.DefBuckets,
		}),
		eventProcessDelay: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bridge_event_processing_delay_seconds",
			Help:    "Delay between event publication and broadcast.",
			Buckets: prometheus.DefBuckets,
		}),
		stateSerializeTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bridge_state_serialization_seconds",
			Help:    "Time spent serializing a game state snapshot or diff.",
			Buckets: prometheus.DefBuckets,
		}),
		alertsTriggered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_performance_alerts_total",
			Help: "Count of performance alerts triggered, by metric name.",
		}, []string{"metric"}),
	}
}
