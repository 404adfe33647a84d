package graph

import "sort"

// Registry is the arena of discovered modules, keyed by identity and kept in
// registration order. Edges between modules are identities resolved through
// the registry.
//
// A Registry has a single writer (discovery, resolution) and is only read
// while building.
type Registry struct {
	modules map[string]*Module
	order   []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]*Module)}
}

// Add registers m unless a module with the same identity already exists.
// It returns the registered module and whether m was newly added.
func (r *Registry) Add(m *Module) (*Module, bool) {
	if existing, ok := r.modules[m.identity]; ok {
		return existing, false
	}
	r.modules[m.identity] = m
	r.order = append(r.order, m.identity)
	return m, true
}

// Get looks a module up by identity.
func (r *Registry) Get(identity string) (*Module, bool) {
	m, ok := r.modules[identity]
	return m, ok
}

// Len returns the number of registered modules.
func (r *Registry) Len() int {
	return len(r.order)
}

// Modules returns all modules in registration order.
func (r *Registry) Modules() []*Module {
	out := make([]*Module, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.modules[id])
	}
	return out
}

// Sorted returns all modules sorted by identity.
func (r *Registry) Sorted() []*Module {
	out := r.Modules()
	sort.Slice(out, func(i, j int) bool { return out[i].identity < out[j].identity })
	return out
}

// References resolves the outgoing edges of m. Identities missing from the
// registry are skipped.
func (r *Registry) References(m *Module) []*Module {
	out := make([]*Module, 0, len(m.refs))
	for _, id := range m.refs {
		if ref, ok := r.modules[id]; ok {
			out = append(out, ref)
		}
	}
	return out
}

// Buildable returns the modules with a source description, in registration order.
func (r *Registry) Buildable() []*Module {
	var out []*Module
	for _, id := range r.order {
		if m := r.modules[id]; m.Buildable() {
			out = append(out, m)
		}
	}
	return out
}
