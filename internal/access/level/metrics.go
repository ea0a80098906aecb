// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package level

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	syncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bastion_level_sync_duration_seconds",
		Help:    "Histogram of permission level sync latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	syncTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bastion_level_syncs_total",
		Help: "Total number of permission level syncs by result",
	}, []string{"result"})

	syncRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bastion_level_records",
		Help: "Number of level records in the current table",
	})

	lastSync = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bastion_level_last_sync",
		Help: "Unix timestamp of the last successful permission level sync",
	})
)

func recordSync(d time.Duration, ok bool, records int) {
	syncDuration.Observe(d.Seconds())
	if !ok {
		syncTotal.WithLabelValues("error").Inc()
		return
	}
	syncTotal.WithLabelValues("ok").Inc()
	syncRecords.Set(float64(records))
	lastSync.SetToCurrentTime()
}
