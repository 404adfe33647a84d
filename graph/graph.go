// Package graph holds the module dependency graph: the module registry, the
// graph builder that discovers modules from their descriptions, the priority
// resolver and the on-disk cache of an analysed graph.
package graph

import (
	"math"
	"strconv"
)

// Build priority markers. Resolved priorities are >= 0 and smaller than
// CircularReferenceCollateral.
const (
	NotAnalysed                 = -1
	Analysing                   = -2
	CircularReference           = math.MaxInt32
	CircularReferenceCollateral = math.MaxInt32 - 1
)

// IsResolved reports whether p is a resolved (depth ordered) priority.
func IsResolved(p int) bool {
	return p >= 0 && p < CircularReferenceCollateral
}

// IsCircular reports whether p is one of the two circular reference markers.
func IsCircular(p int) bool {
	return p == CircularReference || p == CircularReferenceCollateral
}

// IsTerminal reports whether p is a final resolver state.
func IsTerminal(p int) bool {
	return IsResolved(p) || IsCircular(p)
}

// PriorityString formats a priority, naming the markers.
func PriorityString(p int) string {
	switch p {
	case NotAnalysed:
		return "NotAnalysed"
	case Analysing:
		return "Analysing"
	case CircularReference:
		return "CircularReference"
	case CircularReferenceCollateral:
		return "CircularReferenceCollateral"
	}
	return strconv.Itoa(p)
}

// Module is one buildable unit (or an external reference known only by name).
// Two modules with the same identity are the same module.
type Module struct {
	identity   string
	SourcePath string // empty for external references, never built
	Priority   int
	refs       []string // identities, declaration order
	refSet     map[string]struct{}
}

// NewModule creates a module in the NotAnalysed state.
func NewModule(identity, sourcePath string) *Module {
	return &Module{
		identity:   identity,
		SourcePath: sourcePath,
		Priority:   NotAnalysed,
		refSet:     make(map[string]struct{}),
	}
}

// Identity returns the name[@version] key of the module.
func (m *Module) Identity() string {
	return m.identity
}

// Buildable reports whether the module has a description that can be built.
func (m *Module) Buildable() bool {
	return m.SourcePath != ""
}

// AddReference records an outgoing edge to the module with the given identity.
// Duplicates are ignored. Returns ErrSelfReference for an edge to itself.
func (m *Module) AddReference(identity string) error {
	if identity == m.identity {
		return ErrSelfReference
	}
	if _, dup := m.refSet[identity]; dup {
		return nil
	}
	m.refSet[identity] = struct{}{}
	m.refs = append(m.refs, identity)
	return nil
}

// References returns the identities this module directly depends on, in
// declaration order.
func (m *Module) References() []string {
	out := make([]string, len(m.refs))
	copy(out, m.refs)
	return out
}

// HasReference reports whether m directly depends on identity.
func (m *Module) HasReference(identity string) bool {
	_, ok := m.refSet[identity]
	return ok
}

func (m *Module) String() string {
	return m.identity
}
