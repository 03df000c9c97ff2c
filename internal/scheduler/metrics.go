package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	episodesPublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_episodes_published_total",
		Help: "Total number of episodes transitioned to published.",
	})

	publishRetriesScheduledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_publish_retries_scheduled_total",
		Help: "Total number of fixed-delay publish retries armed after a failed publish transaction.",
	})

	publishRetriesExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_publish_retries_exhausted_total",
		Help: "Total number of episodes whose publish retry budget ran out.",
	})
)
