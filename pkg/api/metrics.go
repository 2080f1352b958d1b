package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/blogcast/blogcast/pkg/admission"
)

var submissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "blogcast",
	Name:      "submissions_total",
	Help:      "Job submissions by outcome (admitted or refusal category).",
}, []string{"outcome"})

// observeSubmission counts one submission attempt. A nil error is an
// admitted job; a refusal counts under its category; anything else is an
// internal error.
func observeSubmission(err error) {
	switch {
	case err == nil:
		submissionsTotal.WithLabelValues("admitted").Inc()
	default:
		if refusal, ok := admission.AsRefusal(err); ok {
			submissionsTotal.WithLabelValues(string(refusal.Category)).Inc()
			return
		}
		submissionsTotal.WithLabelValues("error").Inc()
	}
}
