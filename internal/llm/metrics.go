package llm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	generateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "childassess_generate_requests_total",
		Help: "Generative backend requests by outcome",
	}, []string{"outcome"})

	generateDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "childassess_generate_duration_seconds",
		Help:    "Latency of successful generative requests",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20},
	})
)
