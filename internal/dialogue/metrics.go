package dialogue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	questionsAsked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "childassess_chat_questions_total",
		Help: "Chat questions asked by source",
	}, []string{"source"})

	persistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "childassess_chat_persist_failures_total",
		Help: "Chat turns that could not be written to the durable log",
	})
)
