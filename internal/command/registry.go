// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package command

import (
	"log/slog"
	"sort"
	"sync"
)

// Registry manages command registration and lookup.
// It is thread-safe for concurrent access.
type Registry struct {
	commands map[string]Entry
	mu       sync.RWMutex
}

// NewRegistry creates a new command registry.
func NewRegistry() *Registry {
	return &Registry{
		commands: make(map[string]Entry),
	}
}

// Register validates and adds a command. A command with the same name is
// replaced and a warning is logged.
func (r *Registry) Register(entry Entry) error {
	if err := ValidateCommandName(entry.Name); err != nil {
		return err
	}
	if entry.Handler == nil {
		return ErrNilHandler(entry.Name)
	}
	entry.req = newRequirement(entry.Permissions)

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.commands[entry.Name]; ok {
		slog.Warn("command conflict: overwriting existing command",
			"command", entry.Name,
			"previous_source", existing.Source,
			"new_source", entry.Source)
	}

	r.commands[entry.Name] = entry
	return nil
}

// Get retrieves a command by name.
func (r *Registry) Get(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.commands[name]
	return entry, ok
}

// All returns all registered commands sorted by name.
func (r *Registry) All() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]Entry, 0, len(r.commands))
	for _, e := range r.commands {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}
