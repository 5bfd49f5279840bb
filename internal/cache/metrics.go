package cache

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics shared by every named cache.
type Metrics struct {
	HitsTotal      *prometheus.CounterVec
	MissesTotal    *prometheus.CounterVec
	EvictionsTotal *prometheus.CounterVec
	Size           *prometheus.GaugeVec
}

// NewMetrics registers the cache metrics once per process.
//
// Metrics:
//   - assistd_cache_hits_total{cache}
//   - assistd_cache_misses_total{cache}
//   - assistd_cache_evictions_total{cache}
//   - assistd_cache_size{cache}
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			HitsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "assistd",
					Name:      "cache_hits_total",
					Help:      "Total number of cache hits",
				},
				[]string{"cache"},
			),
			MissesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "assistd",
					Name:      "cache_misses_total",
					Help:      "Total number of cache misses",
				},
				[]string{"cache"},
			),
			EvictionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "assistd",
					Name:      "cache_evictions_total",
					Help:      "Total number of entries evicted by the size bound",
				},
				[]string{"cache"},
			),
			Size: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: "assistd",
					Name:      "cache_size",
					Help:      "Current number of cached entries",
				},
				[]string{"cache"},
			),
		}
	})
	return globalMetrics
}
