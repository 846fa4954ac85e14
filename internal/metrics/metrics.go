// Package metrics exports Prometheus metrics for search, encoding and reassignment.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "immich"

// Registry holds every collector of this process. It is private so tests
// and embedders do not collide with the global default registry.
var Registry = prometheus.NewRegistry()

var (
	// SearchRequests counts searches by strategy and outcome.
	SearchRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Total number of search requests",
		},
		[]string{"strategy", "status"},
	)

	// SearchLatency observes end-to-end search latency.
	SearchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "latency_seconds",
			Help:      "Search latency in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"strategy"},
	)

	// EncoderRequests counts calls to the ML text encoder.
	EncoderRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "encoder",
			Name:      "requests_total",
			Help:      "Total number of text encoder requests",
		},
		[]string{"status"},
	)

	// EncoderCache counts text embedding cache lookups.
	EncoderCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "encoder",
			Name:      "cache_lookups_total",
			Help:      "Text embedding cache lookups by result",
		},
		[]string{"result"},
	)

	// ReassignedFaces counts faces touched by reassignment.
	ReassignedFaces = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "person",
			Name:      "reassigned_faces_total",
			Help:      "Faces moved or detached by person reassignment",
		},
		[]string{"action"},
	)

	// TransactionRetries counts transactions retried after contention.
	TransactionRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "transaction_retries_total",
			Help:      "Transactions retried after serialization failures",
		},
		[]string{"operation"},
	)
)

func init() {
	Registry.MustRegister(
		SearchRequests,
		SearchLatency,
		EncoderRequests,
		EncoderCache,
		ReassignedFaces,
		TransactionRetries,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
