package tasks

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "listing_studio_jobs_enqueued_total",
		Help: "Image jobs submitted to the job runtime.",
	}, []string{"type"})

	jobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "listing_studio_jobs_processed_total",
		Help: "Image job attempts by outcome.",
	}, []string{"type", "outcome"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "listing_studio_job_duration_seconds",
		Help:    "Wall time of one image job attempt.",
		Buckets: []float64{1, 5, 15, 30, 60, 90, 120, 300, 600},
	}, []string{"type"})
)
