package analysis

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tierOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "childassess_analysis_tier_outcomes_total",
		Help: "Analysis tier attempts by tier and outcome",
	}, []string{"tier", "outcome"})

	analysisDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "childassess_analysis_duration_seconds",
		Help:    "Wall-clock time of one answer analysis by the tier that scored it",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 40, 70},
	}, []string{"backend"})
)
