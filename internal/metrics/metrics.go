// Package metrics provides Prometheus metrics for the wait/notify engine.
// It tracks registrations, responses, callback delivery and the background
// jobs to help identify stuck joins and measure end-to-end join latency.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "waitnotify"
)

// Engine metrics track the registration and notify entry points.
var (
	// WaitsRegisteredTotal counts wait instances registered, by callback name.
	WaitsRegisteredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "waits_registered_total",
			Help:      "Total number of wait instances registered",
		},
		[]string{"callback"},
	)

	// WaitCorrelationIDs tracks how many ids each join waits on.
	WaitCorrelationIDs = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "wait_correlation_ids",
			Help:      "Number of correlation ids per wait instance",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	// ResponsesReceivedTotal counts Notify and NotifyError calls.
	ResponsesReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_received_total",
			Help:      "Total number of responses received",
		},
		[]string{"kind", "result"}, // kind: success, error; result: stored, duplicate, failed
	)

	// EventsPublishedTotal counts notify events published to the queue.
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total number of notify events published to the message queue",
		},
		[]string{"source", "status"}, // source: notify, register, notifier; status: success, failure
	)

	// QueuePublishLatency measures time to publish a message to the queue.
	QueuePublishLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "queue_publish_latency_seconds",
			Help:      "Time to publish a message to the queue in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1},
		},
	)
)

// Listener metrics track event handling and callback delivery.
var (
	// EventsProcessedTotal counts events handled by the listener, by outcome.
	EventsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_processed_total",
			Help:      "Total number of notify events processed",
		},
		[]string{"outcome"},
	)

	// EventProcessingLatency measures time to process a single event.
	EventProcessingLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_processing_latency_seconds",
			Help:      "Time to process a single notify event in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// MissingResponses tracks how many ids were still missing on partial arrival.
	MissingResponses = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "missing_responses",
			Help:      "Number of correlation ids still missing when an event arrived early",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	// CallbacksTotal counts callback invocations.
	CallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callbacks_total",
			Help:      "Total number of callback invocations",
		},
		[]string{"callback", "path", "status"}, // path: complete, error; status: success, failure
	)

	// JoinLatency measures time from registration to the callback firing.
	JoinLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "join_latency_seconds",
			Help:      "Time from wait registration to callback delivery in seconds",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300, 3600},
		},
	)
)

// Background job metrics track the notifier, cleanup and scheduler.
var (
	// JobRunsTotal counts scheduled job ticks.
	JobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Total number of background job ticks",
		},
		[]string{"job", "result"}, // result: success, failure, skipped, panic
	)

	// JobDuration measures background job run time.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Background job run time in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"job"},
	)

	// UnmatchedResponses tracks responses with no waiting instance seen by the last sweep.
	UnmatchedResponses = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unmatched_responses",
			Help:      "Responses with no waiting instance in the last notifier sweep",
		},
	)

	// CleanupDeletedTotal counts rows removed by the cleanup job.
	CleanupDeletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_deleted_total",
			Help:      "Total number of rows removed by cleanup",
		},
		[]string{"kind"}, // kind: response, wait_instance, wait_queue
	)

	// CleanupFailuresTotal counts cleanup deletions that failed.
	CleanupFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_failures_total",
			Help:      "Total number of failed cleanup deletions",
		},
		[]string{"kind"},
	)

	// IsLeader is 1 while this process may run background jobs.
	IsLeader = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "is_leader",
			Help:      "1 when this process holds background job leadership",
		},
	)
)
