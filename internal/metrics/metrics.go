// Package metrics registers the Prometheus counters exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CapturesTotal counts stored webhook requests, labeled single or batch.
	CapturesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hookvault_captures_total",
		Help: "Captured webhook requests stored.",
	}, []string{"mode"})

	// CaptureErrorsTotal counts rejected capture calls by error code.
	CaptureErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hookvault_capture_errors_total",
		Help: "Capture calls rejected, by error code.",
	}, []string{"code"})

	// TasksPublishedTotal counts deferred tasks published, by routing key.
	TasksPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hookvault_tasks_published_total",
		Help: "Deferred tasks published to the broker.",
	}, []string{"key"})

	// TasksFailedTotal counts worker task executions that errored, by queue.
	TasksFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hookvault_tasks_failed_total",
		Help: "Deferred task executions that returned an error.",
	}, []string{"queue"})

	// ReapedRequestsTotal counts requests deleted by sweeps, by sweep name.
	ReapedRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hookvault_reaped_requests_total",
		Help: "Stored requests deleted by batch sweeps.",
	}, []string{"sweep"})

	// ReapedEndpointsTotal counts endpoints deleted by the expiry sweep and
	// account deletion.
	ReapedEndpointsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hookvault_reaped_endpoints_total",
		Help: "Endpoints deleted by batch sweeps.",
	}, []string{"sweep"})
)
