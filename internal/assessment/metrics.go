package assessment

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cachedAnswers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "childassess_cached_answers_total",
		Help: "Answers served from a stored analysis without calling a backend",
	})

	aggregationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "childassess_aggregation_duration_seconds",
		Help:    "Time to build a final result by session kind",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 20},
	}, []string{"kind"})
)
