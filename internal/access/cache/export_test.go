// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package cache

import "github.com/prometheus/client_golang/prometheus"

// Lookups exposes one series of the lookup counter to external tests.
func Lookups(tier, result string) prometheus.Counter {
	return lookups.WithLabelValues(tier, result)
}
