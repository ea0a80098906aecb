package capability

import "sort"

// Set is a set of capabilities keyed by name.
type Set map[string]Capability

// NewSet returns a set holding caps.
func NewSet(caps ...Capability) Set {
	s := make(Set, len(caps))
	for _, c := range caps {
		s.Add(c)
	}
	return s
}

// Add inserts capabilities into the set.
func (s Set) Add(caps ...Capability) {
	for _, c := range caps {
		s[c.Name()] = c
	}
}

// Remove deletes the named capabilities.
func (s Set) Remove(names ...string) {
	for _, name := range names {
		delete(s, name)
	}
}

// Has reports whether the named capability is in the set.
func (s Set) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Names returns the sorted capability names.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a shallow copy of the set.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
