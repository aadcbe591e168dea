package aggregate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var aggregations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "childassess_aggregations_total",
	Help: "Final verdicts by session kind and source",
}, []string{"kind", "source"})
