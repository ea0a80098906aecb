// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package command

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/bastionbot/bastion/internal/access/capability"
	"github.com/bastionbot/bastion/internal/guild"
)

// RequirementState tracks whether a Requirement has been decomposed.
type RequirementState int32

// Requirement states. The transition is one-way.
const (
	Uncomputed RequirementState = iota
	Computed
)

func (s RequirementState) String() string {
	if s == Computed {
		return "computed"
	}
	return "uncomputed"
}

// Requirement is a command's declared permission list, split on first use
// into native bits and capability objects. The split is kept for the life of
// the process.
type Requirement struct {
	names []string
	once  sync.Once
	state atomic.Int32

	native  guild.Permissions
	caps    []capability.Capability
	unknown []string
}

func newRequirement(names []string) *Requirement {
	return &Requirement{names: slices.Clone(names)}
}

// Names returns the declared requirement names.
func (r *Requirement) Names() []string { return slices.Clone(r.names) }

// State reports whether the decomposition has run.
func (r *Requirement) State() RequirementState {
	return RequirementState(r.state.Load())
}

// Decompose returns the native bits, the capabilities and any names that
// matched neither. Only the first call reads registry.
func (r *Requirement) Decompose(registry *capability.Registry) (guild.Permissions, []capability.Capability, []string) {
	r.once.Do(func() {
		for _, name := range r.names {
			if bit, ok := guild.ParsePermission(name); ok {
				r.native |= bit
				continue
			}
			if c, ok := registry.Get(name); ok {
				r.caps = append(r.caps, c)
				continue
			}
			r.unknown = append(r.unknown, name)
		}
		r.state.Store(int32(Computed))
	})
	return r.native, r.caps, r.unknown
}

// Empty reports whether no permission is required.
func (r *Requirement) Empty() bool { return len(r.names) == 0 }
