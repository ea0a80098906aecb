// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	tierMemory = "memory"
	tierRedis  = "redis"
)

var lookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "bastion_permission_cache_lookups_total",
	Help: "Total number of permission cache lookups by tier and result",
}, []string{"tier", "result"})

func recordLookup(tier string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	lookups.WithLabelValues(tier, result).Inc()
}
