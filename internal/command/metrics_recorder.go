// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package command

import "time"

// metricsRecorder collects the labels of one dispatch and writes them once.
type metricsRecorder struct {
	start  time.Time
	name   string
	source string
	status string
}

func newMetricsRecorder() *metricsRecorder {
	return &metricsRecorder{start: time.Now(), status: StatusError}
}

// record is a no-op until a command name is known.
func (m *metricsRecorder) record() {
	if m.name == "" {
		return
	}
	RecordCommandExecution(m.name, m.source, m.status)
	RecordCommandDuration(m.name, m.source, time.Since(m.start))
}
