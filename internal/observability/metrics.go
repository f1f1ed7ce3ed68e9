package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	MessagesRouted   *prometheus.CounterVec
	PersonaSwitches  prometheus.Counter
	VocativeOverride prometheus.Counter
	LegacyMigrations prometheus.Counter
	DecryptFailures  prometheus.Counter
	TurnsPruned      prometheus.Counter
	WSMessages       *prometheus.CounterVec
	RoutingLatency   prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		MessagesRouted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_routed_total",
			Help:      "Inbound messages routed, by selected persona.",
		}, []string{"persona"}),
		PersonaSwitches: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persona_switches_total",
			Help:      "Routing decisions that changed the active persona.",
		}),
		VocativeOverride: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vocative_overrides_total",
			Help:      "Messages that addressed a persona by name.",
		}),
		LegacyMigrations: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "legacy_migrations_total",
			Help:      "Session rows migrated to hash-indexed form on access.",
		}),
		DecryptFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decrypt_failures_total",
			Help:      "Stored values that failed decryption and passed through.",
		}),
		TurnsPruned: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_pruned_total",
			Help:      "Conversation rows removed by the retention sweep.",
		}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction.",
		}, []string{"direction"}),
		RoutingLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "routing_latency_ms",
			Help:      "Time to route an inbound message in milliseconds.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250},
		}),
	}
}

func (m *Metrics) ObserveRoutingLatency(d time.Duration) {
	m.RoutingLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
