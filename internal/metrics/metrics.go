// Package metrics exposes the broker's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AdmissionsTotal counts jobs admitted past the rate limiter.
	AdmissionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "apim_broker_admissions_total",
			Help: "Total number of jobs admitted by the scheduler",
		},
	)

	// DenialsTotal counts admission denials by reason (WAIT_RPM, WAIT_TOKENS, WAIT_DAILY).
	DenialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apim_broker_denials_total",
			Help: "Total number of admission denials by reason",
		},
		[]string{"reason"},
	)

	// DispatchAttemptsTotal counts outbound HTTP attempts by outcome (success,
	// client_error, server_error, transport_error), plus one "exhausted"
	// increment per dispatch that runs out of retries.
	DispatchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apim_broker_dispatch_attempts_total",
			Help: "Total number of outbound dispatch attempts",
		},
		[]string{"outcome"},
	)

	// DispatchDuration observes end-to-end dispatch latency, including retries.
	DispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "apim_broker_dispatch_duration_seconds",
			Help: "Dispatch latency in seconds, including retries",
		},
	)

	// QueueDepth tracks the current number of pending jobs.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "apim_broker_queue_depth",
			Help: "Number of jobs currently pending admission",
		},
	)

	// JobTimeoutsTotal counts client-facing queue timeouts.
	JobTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "apim_broker_job_timeouts_total",
			Help: "Total number of requests that timed out waiting in queue",
		},
	)

	// OrphanSlotsReapedTotal counts result slots reaped after a client gave up.
	OrphanSlotsReapedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "apim_broker_orphan_slots_reaped_total",
			Help: "Total number of orphaned result slots reaped by the periodic sweep",
		},
	)
)
