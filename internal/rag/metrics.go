package rag

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AnswersTotal counts answers.
	// Labels: source (faq, insufficient, generated, error)
	AnswersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "assistd",
			Subsystem: "rag",
			Name:      "answers_total",
			Help:      "Total number of answers by source",
		},
		[]string{"source"},
	)

	// AnswerDuration tracks end-to-end answer latency.
	AnswerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "assistd",
			Subsystem: "rag",
			Name:      "answer_duration_seconds",
			Help:      "Duration of answer requests in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"source"},
	)
)
