package vectorstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationDuration tracks store operation latency.
	// Labels: op, result (success, error)
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "assistd",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vector store operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op", "result"},
	)

	chunksIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "assistd",
			Subsystem: "vectorstore",
			Name:      "chunks_ingested_total",
			Help:      "Total number of chunks written to the store",
		},
	)
)

// observe records an operation. err is read after the operation returns.
func observe(op string, start time.Time, err *error) {
	result := "success"
	if err != nil && *err != nil {
		result = "error"
	}
	OperationDuration.WithLabelValues(op, result).Observe(time.Since(start).Seconds())
}
