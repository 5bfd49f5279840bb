package prompt

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SynthesesTotal counts synthesized instructions.
	// Labels: strategy (personas, content, default), cache (hit, miss, none)
	SynthesesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "assistd",
			Subsystem: "prompt",
			Name:      "syntheses_total",
			Help:      "Total number of system prompts synthesized by strategy",
		},
		[]string{"strategy", "cache"},
	)

	// GenerationFailuresTotal counts failed or empty generations.
	GenerationFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "assistd",
			Subsystem: "prompt",
			Name:      "generation_failures_total",
			Help:      "Total number of prompt generations that failed or returned nothing",
		},
	)
)
