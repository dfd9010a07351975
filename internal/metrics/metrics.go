// Package metrics exposes Prometheus instrumentation for the auth flows.
// Labels are kept to outcome/reason to bound cardinality.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RegisterAttempts counts registration attempts by terminal outcome and,
	// for failures, the rejecting stage.
	RegisterAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_register_attempts_total",
			Help: "Total number of registration attempts.",
		},
		[]string{"outcome", "reason"},
	)

	// RegisterDuration records registration latency in seconds by outcome.
	RegisterDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "auth_register_duration_seconds",
			Help:    "Duration of registration requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	// LoginAttempts counts login attempts by terminal outcome.
	LoginAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_login_attempts_total",
			Help: "Total number of login attempts.",
		},
		[]string{"outcome", "reason"},
	)

	// LoginDuration records login latency in seconds by outcome.
	LoginDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "auth_login_duration_seconds",
			Help:    "Duration of login requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	// ProvisioningAttempts counts synchronous downstream provisioning calls
	// by outcome (success, conflict, failure, open_circuit).
	ProvisioningAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provisioning_attempts_total",
			Help: "Total number of downstream profile provisioning attempts.",
		},
		[]string{"outcome"},
	)

	// ProvisioningJobsEnqueued counts compensation jobs handed to the queue.
	ProvisioningJobsEnqueued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "provisioning_jobs_enqueued_total",
			Help: "Total number of compensation jobs enqueued.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RegisterAttempts,
		RegisterDuration,
		LoginAttempts,
		LoginDuration,
		ProvisioningAttempts,
		ProvisioningJobsEnqueued,
	)
}
