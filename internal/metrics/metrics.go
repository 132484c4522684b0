// Package metrics defines the Prometheus instruments exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UpdatesReceived counts classified updates accepted at the ingestion
	// boundary, by variant.
	UpdatesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quicklingo_updates_received_total",
		Help: "Total number of updates accepted at the ingestion boundary",
	}, []string{"kind"})

	// UpdatesDropped counts payloads dropped at the boundary.
	UpdatesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quicklingo_updates_dropped_total",
		Help: "Total number of updates dropped at the ingestion boundary",
	}, []string{"reason"})

	// PipelineOutcomes counts terminal pipeline outcomes.
	PipelineOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quicklingo_pipeline_outcomes_total",
		Help: "Total number of pipeline outcomes by status",
	}, []string{"status"})

	// GenerationRequests counts generation provider calls.
	GenerationRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quicklingo_generation_requests_total",
		Help: "Total number of generation provider requests",
	}, []string{"model", "status"})

	// GenerationTokens counts tokens consumed and produced.
	GenerationTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quicklingo_generation_tokens_total",
		Help: "Total number of generation tokens by direction",
	}, []string{"direction"})

	// GenerationCost accumulates generation spend in dollars.
	GenerationCost = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quicklingo_generation_cost_dollars_total",
		Help: "Total generation cost in dollars",
	})

	// QueueDepth tracks the pending task list length.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quicklingo_queue_depth",
		Help: "Number of tasks waiting in the pending queue",
	})

	// TaskRetries counts task redeliveries after handler failures.
	TaskRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quicklingo_task_retries_total",
		Help: "Total number of task redeliveries after handler failures",
	})
)
