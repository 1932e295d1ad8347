package metrics

import "github.com/prometheus/client_golang/prometheus"

// Vector store and pipeline Prometheus metrics.
var (
	StoreRecords = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "localrag",
			Name:      "store_records",
			Help:      "Number of records held by an index",
		},
		[]string{"index"},
	)

	StorePersistDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "localrag",
			Name:      "store_persist_duration_seconds",
			Help:      "Time spent rewriting the index artifact",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"index"},
	)

	StoreOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "localrag",
			Name:      "store_operations_total",
			Help:      "Vector store operations by outcome",
		},
		[]string{"index", "op", "status"},
	)

	StoreRecoveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "localrag",
			Name:      "store_recoveries_total",
			Help:      "Unreadable index artifacts replaced by an empty index",
		},
		[]string{"index"},
	)

	RetrieveDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "localrag",
			Name:      "retrieve_duration_seconds",
			Help:      "End-to-end retrieval latency (embed + search)",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)

	IngestedChunksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "localrag",
			Name:      "ingested_chunks_total",
			Help:      "Chunks embedded and upserted by ingestion",
		},
	)
)
