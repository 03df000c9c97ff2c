package jobstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsExecutedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_jobs_executed_total",
		Help: "Total number of scheduled jobs delivered to the handler.",
	})

	staleJobsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_stale_jobs_dropped_total",
		Help: "Total number of jobs dropped because their trigger time was older than the misfire grace window.",
	})
)
