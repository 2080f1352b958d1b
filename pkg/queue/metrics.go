package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "blogcast",
		Name:      "jobs_in_flight",
		Help:      "Pipelines currently running in this process.",
	})

	jobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blogcast",
		Name:      "jobs_processed_total",
		Help:      "Jobs this process finished, by outcome.",
	}, []string{"outcome"})
)
