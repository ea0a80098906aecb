// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package command

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Status constants for command execution metrics.
const (
	StatusSuccess          = "success"
	StatusError            = "error"
	StatusNotFound         = "not_found"
	StatusPermissionDenied = "permission_denied"
	StatusRateLimited      = "rate_limited"
)

// CommandExecutions is the counter for command executions.
// Use RegisterMetrics to register this with a Prometheus registry.
var CommandExecutions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "bastion_command_executions_total",
		Help: "Total number of command executions",
	},
	[]string{"command", "source", "status"},
)

// CommandDuration is the histogram for command execution duration.
var CommandDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "bastion_command_duration_seconds",
		Help:    "Command execution duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"command", "source"},
)

// PermissionDenials counts commands refused by the permission gate, by the
// kind of requirement that failed.
var PermissionDenials = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "bastion_command_permission_denials_total",
		Help: "Total number of commands refused by the permission gate",
	},
	[]string{"command", "reason"},
)

// RegisterMetrics registers command package metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(CommandExecutions)
	reg.MustRegister(CommandDuration)
	reg.MustRegister(PermissionDenials)
}

// RecordCommandExecution increments the command execution counter.
func RecordCommandExecution(command, source, status string) {
	CommandExecutions.WithLabelValues(command, source, status).Inc()
}

// RecordCommandDuration records how long a command took.
func RecordCommandDuration(command, source string, duration time.Duration) {
	CommandDuration.WithLabelValues(command, source).Observe(duration.Seconds())
}

// RecordPermissionDenial increments the denial counter.
func RecordPermissionDenial(command, reason string) {
	PermissionDenials.WithLabelValues(command, reason).Inc()
}
