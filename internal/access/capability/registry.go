// Package capability holds application-defined capabilities: named
// predicates over an actor that are independent of native permissions.
//
// Capabilities are registered at boot into a Registry that is injected into
// the permission engine. Names are dot-separated segments. Grants stored in
// profiles may use glob patterns resolved through Match:
//   - '*' matches a single segment (does not cross '.')
//   - '**' matches zero or more segments (crosses '.')
//
// Examples:
//   - "system.*" matches "system.admin" but NOT "system.audit.read"
//   - "system.**" matches both "system.admin" AND "system.audit.read"
package capability

import (
	"sort"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	"github.com/samber/oops"

	"github.com/bastionbot/bastion/internal/guild"
)

// Error codes returned by the registry.
const (
	CodeDuplicate = "CAPABILITY_DUPLICATE"
	CodeInvalid   = "CAPABILITY_INVALID"
)

// Capability is a named predicate over an actor.
type Capability interface {
	Name() string
	Check(actor guild.Actor) bool
}

type funcCapability struct {
	name string
	fn   func(guild.Actor) bool
}

func (f funcCapability) Name() string                 { return f.name }
func (f funcCapability) Check(actor guild.Actor) bool { return f.fn(actor) }

// New returns a Capability backed by fn. A nil fn never passes, which makes
// the capability grantable only through profiles or levels.
func New(name string, fn func(guild.Actor) bool) Capability {
	if fn == nil {
		fn = func(guild.Actor) bool { return false }
	}
	return funcCapability{name: name, fn: fn}
}

// Registry maps capability names to their predicates.
//
// Registry is safe for concurrent use. Writes are expected only during boot.
type Registry struct {
	caps     map[string]Capability
	patterns map[string]glob.Glob
	mu       sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		caps:     make(map[string]Capability),
		patterns: make(map[string]glob.Glob),
	}
}

// Register adds c to the registry. Names must be non-empty, must not contain
// glob metacharacters and must be unique.
func (r *Registry) Register(c Capability) error {
	if c == nil {
		return oops.In("capability").Code(CodeInvalid).Errorf("capability is nil")
	}
	name := c.Name()
	if name == "" || strings.ContainsAny(name, "*?[]{}!") {
		return oops.In("capability").Code(CodeInvalid).With("capability", name).
			Errorf("invalid capability name %q", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.caps[name]; exists {
		return oops.In("capability").Code(CodeDuplicate).With("capability", name).
			Errorf("capability %q already registered", name)
	}
	r.caps[name] = c
	return nil
}

// MustRegister registers every capability and panics on the first error.
func (r *Registry) MustRegister(caps ...Capability) {
	for _, c := range caps {
		if err := r.Register(c); err != nil {
			panic(err)
		}
	}
}

// Get returns the capability registered under name.
func (r *Registry) Get(name string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[name]
	return c, ok
}

// All returns every registered capability ordered by name.
func (r *Registry) All() []Capability {
	r.mu.RLock()
	all := make([]Capability, 0, len(r.caps))
	for _, c := range r.caps {
		all = append(all, c)
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].Name() < all[j].Name() })
	return all
}

// Len returns the number of registered capabilities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.caps)
}

// Resolve returns the capabilities a grant refers to. Plain names resolve to
// at most one capability; patterns resolve to every match. Unknown names and
// invalid patterns resolve to nothing.
func (r *Registry) Resolve(grant string) []Capability {
	if grant == "" {
		return nil
	}
	if !isPattern(grant) {
		if c, ok := r.Get(grant); ok {
			return []Capability{c}
		}
		return nil
	}

	g, err := r.compile(grant)
	if err != nil {
		return nil
	}

	var matched []Capability
	for _, c := range r.All() {
		if g.Match(c.Name()) {
			matched = append(matched, c)
		}
	}
	return matched
}

// Match returns the capabilities whose names match pattern.
func (r *Registry) Match(pattern string) ([]Capability, error) {
	g, err := r.compile(pattern)
	if err != nil {
		return nil, err
	}
	var matched []Capability
	for _, c := range r.All() {
		if g.Match(c.Name()) {
			matched = append(matched, c)
		}
	}
	return matched, nil
}

// Passing returns the capabilities whose predicate passes for actor. When
// names is empty every registered capability is evaluated; otherwise only the
// named ones, and unknown names are skipped.
func (r *Registry) Passing(actor guild.Actor, names ...string) Set {
	candidates := make([]Capability, 0, len(names))
	if len(names) == 0 {
		candidates = r.All()
	} else {
		for _, name := range names {
			if c, ok := r.Get(name); ok {
				candidates = append(candidates, c)
			}
		}
	}

	set := NewSet()
	for _, c := range candidates {
		if c.Check(actor) {
			set.Add(c)
		}
	}
	return set
}

func (r *Registry) compile(pattern string) (glob.Glob, error) {
	r.mu.RLock()
	g, ok := r.patterns[pattern]
	r.mu.RUnlock()
	if ok {
		return g, nil
	}

	// Compile with '.' as separator so '*' doesn't cross segment boundaries
	g, err := glob.Compile(pattern, '.')
	if err != nil {
		return nil, oops.In("capability").Code(CodeInvalid).With("pattern", pattern).Wrap(err)
	}

	r.mu.Lock()
	r.patterns[pattern] = g
	r.mu.Unlock()
	return g, nil
}

func isPattern(s string) bool {
	return strings.ContainsAny(s, "*?[{")
}
