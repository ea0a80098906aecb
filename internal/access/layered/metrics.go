// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package layered

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// profileQueries tracks the database lookups made on cache misses.
var profileQueries = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "bastion_profile_query_duration_seconds",
	Help:    "Histogram of permission profile query latency in seconds",
	Buckets: prometheus.DefBuckets,
}, []string{"result"})

func recordQuery(d time.Duration, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	profileQueries.WithLabelValues(result).Observe(d.Seconds())
}
