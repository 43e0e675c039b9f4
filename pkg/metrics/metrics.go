// Package metrics registers the Prometheus instruments exported on
// /metrics. All collectors are registered at init via promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueDepth tracks the current number of pending operations in
	// the write queue.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "activityd_queue_depth",
		Help: "Current number of operations waiting in the write queue.",
	})

	// QueueRejected counts submissions refused at the queue boundary.
	QueueRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "activityd_queue_rejected_total",
		Help: "Operations rejected at enqueue, by reason.",
	}, []string{"reason"})

	// OpsApplied counts committed store mutations by kind and outcome.
	OpsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "activityd_ops_applied_total",
		Help: "Store operations executed, by kind and outcome.",
	}, []string{"kind", "outcome"})

	// FetchAttempts counts outbound fetch attempts by outcome.
	FetchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "activityd_fetch_attempts_total",
		Help: "Outbound fetch attempts, by outcome.",
	}, []string{"outcome"})

	// RecordsIngested counts new records committed from the feed.
	RecordsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "activityd_records_ingested_total",
		Help: "New feed records committed to the store.",
	})

	// NotificationsSent counts webhook notifications delivered.
	NotificationsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "activityd_notifications_sent_total",
		Help: "Webhook notifications successfully delivered.",
	})

	// RecordsPruned counts records removed by the retention runner.
	RecordsPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "activityd_records_pruned_total",
		Help: "Records removed by retention.",
	})

	// TasksPruned counts terminal fetch task rows removed by retention.
	TasksPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "activityd_tasks_pruned_total",
		Help: "Terminal fetch task rows removed by retention.",
	})
)
