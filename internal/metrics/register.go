package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var registerOnce sync.Once

// Register registers every collector with the default registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			EmbeddingRequestsTotal,
			EmbeddingRequestDuration,
			EmbeddingTokensTotal,
			EmbeddingErrorsTotal,
			StoreRecords,
			StorePersistDuration,
			StoreOperationsTotal,
			StoreRecoveriesTotal,
			RetrieveDuration,
			IngestedChunksTotal,
			httpRequestDuration,
			httpRequestsTotal,
		)
	})
}
