package faq

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LookupsTotal counts FindBestMatch calls.
	// Labels: outcome (hit, miss, empty, no_source, error)
	LookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "assistd",
			Subsystem: "faq",
			Name:      "lookups_total",
			Help:      "Total number of FAQ lookups by outcome",
		},
		[]string{"outcome"},
	)

	// RefreshesTotal counts snapshot loads.
	// Labels: mode (artifact, recomputed)
	RefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "assistd",
			Subsystem: "faq",
			Name:      "refreshes_total",
			Help:      "Total number of FAQ snapshot loads",
		},
		[]string{"mode"},
	)

	// MatchScore records the best similarity of every scored lookup.
	MatchScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "assistd",
			Subsystem: "faq",
			Name:      "match_score",
			Help:      "Best FAQ similarity score per lookup",
			Buckets:   []float64{0, 0.5, 0.6, 0.7, 0.75, 0.8, 0.85, 0.9, 0.95, 1},
		},
	)
)
