package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Messages claimed by a consume session
	MessagesClaimed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablequeue_messages_claimed_total",
			Help: "Total number of messages claimed by consume sessions",
		},
		[]string{"queue"},
	)

	// Claimed messages that had been delivered before
	MessagesRedelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablequeue_messages_redelivered_total",
			Help: "Total number of claimed messages that were redelivered",
		},
		[]string{"queue"},
	)

	// Messages acknowledged through a consumer
	MessagesAcked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablequeue_messages_acked_total",
			Help: "Total number of messages acknowledged",
		},
		[]string{"queue"},
	)

	// Messages rejected through a consumer
	MessagesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablequeue_messages_rejected_total",
			Help: "Total number of messages rejected",
		},
		[]string{"queue", "requeue"},
	)

	// Messages published through a client
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablequeue_messages_sent_total",
			Help: "Total number of messages sent",
		},
		[]string{"queue"},
	)

	// Full rotations that found nothing to claim
	IdlePolls = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tablequeue_idle_polls_total",
			Help: "Total number of polling passes that claimed nothing",
		},
	)

	// Consume sessions currently running
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tablequeue_active_sessions",
			Help: "Number of consume sessions currently polling",
		},
	)

	// Storage errors that ended a consume session
	StorageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablequeue_storage_errors_total",
			Help: "Total number of storage errors returned by consume sessions",
		},
		[]string{"op"},
	)

	// Time spent inside subscriber callbacks
	CallbackDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tablequeue_callback_duration_seconds",
			Help:    "Time taken by subscriber callbacks",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"queue"},
	)
)
