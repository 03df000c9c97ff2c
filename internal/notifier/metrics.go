package notifier

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	notificationsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifier_notifications_sent_total",
		Help: "Total number of notifications delivered, by channel.",
	}, []string{"channel"})

	notificationsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifier_notifications_failed_total",
		Help: "Total number of notifications that ended in a terminal failure, by channel.",
	}, []string{"channel"})

	notificationRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifier_retries_total",
		Help: "Total number of delivery retry attempts across all channels.",
	})

	deadTargetsDeletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifier_dead_targets_deleted_total",
		Help: "Total number of push targets deleted after a permanent delivery failure, by kind.",
	}, []string{"kind"})
)
