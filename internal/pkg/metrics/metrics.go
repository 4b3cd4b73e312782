package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	NotificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_created_total",
			Help: "Total number of notifications persisted",
		},
		[]string{"type"},
	)

	FeedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_feed_events_total",
			Help: "Total number of events published on the change feed",
		},
		[]string{"event"},
	)

	FeedErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_feed_errors_total",
			Help: "Total number of change feed source failures",
		},
		[]string{"source"},
	)

	LiveSessions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "notification_live_sessions",
			Help: "Number of live sessions currently enrolled in the broadcaster",
		},
		[]string{"transport"},
	)

	LiveDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_live_delivered_total",
			Help: "Total number of events handed to live sessions",
		},
		[]string{"transport"},
	)

	LiveDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_live_dropped_total",
			Help: "Total number of events dropped because a session buffer was full",
		},
		[]string{"transport"},
	)
)
