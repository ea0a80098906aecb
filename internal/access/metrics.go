// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package access

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bastionbot/bastion/internal/access/types"
)

// Result labels for resolution metrics.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// ResolutionDuration is the histogram of facade resolutions by mode and
// result. Use RegisterMetrics to register it with a Prometheus registry.
var ResolutionDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "bastion_permission_resolution_duration_seconds",
		Help:    "Permission resolution duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"mode", "result"},
)

// RegisterMetrics registers access package metrics with reg.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(ResolutionDuration)
}

func recordResolution(mode types.Mode, d time.Duration, err error) {
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	ResolutionDuration.WithLabelValues(mode.String(), result).Observe(d.Seconds())
}
