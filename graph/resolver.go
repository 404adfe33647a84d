package graph

import (
	"fortio.org/log"
)

// Resolver assigns build priorities. Priorities approximate the longest
// dependency chain beneath a module, so that building groups of equal
// priority in ascending order builds every dependency before its dependents.
//
// State lives in Module.Priority and persists across calls, resolved modules
// are never visited twice. A Resolver must not be used concurrently.
type Resolver struct {
	reg *Registry
	obs Observer
}

// NewResolver returns a resolver over reg reporting cycles to obs.
func NewResolver(reg *Registry, obs Observer) *Resolver {
	if obs == nil {
		obs = Nop{}
	}
	return &Resolver{reg: reg, obs: obs}
}

// frame is one module on the traversal stack.
type frame struct {
	module   *Module
	refs     []*Module
	next     int // next reference to look at
	level    int // stack depth - 1
	maxLevel int
}

// ResolveAll resolves every module of the registry in registration order.
func (rs *Resolver) ResolveAll() {
	modules := rs.reg.Modules()
	total := len(modules)
	log.Infof("Resolving build priorities of %d modules", total)
	for i, m := range modules {
		rs.obs.Progress(Event{Status: StatusResolving, Name: m.identity, Index: i + 1, Total: total})
		rs.Resolve(m)
		log.LogVf("  %s - Priority : %s", m.identity, PriorityString(m.Priority))
	}
}

// Resolve computes the priority of root and of everything it depends on and
// returns the priority stored on root.
//
// The stored priority of a module is the highest value propagated by its
// references: r+1 for an already resolved reference, the propagated value of
// a reference resolved on the way. A finished frame propagates its depth on
// the stack when that is larger than its stored priority, stored+1 otherwise.
// Cycles mark the module closing the cycle CircularReference and every module
// depending on it CircularReferenceCollateral.
func (rs *Resolver) Resolve(root *Module) int {
	if IsTerminal(root.Priority) {
		return root.Priority
	}
	var stack []*frame
	onStack := make(map[string]bool)
	push := func(m *Module) {
		m.Priority = Analysing
		onStack[m.identity] = true
		stack = append(stack, &frame{module: m, refs: rs.reg.References(m), level: len(stack)})
	}

	push(root)
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		if child := rs.step(f, stack, onStack); child != nil {
			push(child)
			continue
		}
		stack = stack[:len(stack)-1]
		delete(onStack, f.module.identity)
		propagated := finish(f)
		if len(stack) > 0 {
			parent := stack[len(stack)-1]
			if propagated > parent.maxLevel {
				parent.maxLevel = propagated
			}
		}
	}
	return root.Priority
}

// step walks the remaining references of f. It returns the next module to
// descend into, or nil once the frame has nothing left to visit.
func (rs *Resolver) step(f *frame, stack []*frame, onStack map[string]bool) *Module {
	for f.next < len(f.refs) {
		r := f.refs[f.next]
		f.next++
		switch {
		case IsCircular(r.Priority):
			// Downstream of a known cycle. Never downgrade the module closing a cycle.
			if f.module.Priority != CircularReference {
				f.module.Priority = CircularReferenceCollateral
			}
			f.next = len(f.refs)
			return nil
		case IsResolved(r.Priority):
			if r.Priority+1 > f.maxLevel {
				f.maxLevel = r.Priority + 1
			}
		case onStack[r.identity]:
			r.Priority = CircularReference
			err := &CircularReferenceError{Path: cyclePath(stack, r)}
			log.Warnf("Circular reference: %s", err.Cycle())
			rs.obs.Error(err)
			f.maxLevel = CircularReference
			f.next = len(f.refs)
			return nil
		default:
			return r
		}
	}
	return nil
}

// finish stores the priority of a completed frame and returns the value
// propagated to its parent.
func finish(f *frame) int {
	m := f.module
	switch {
	case IsCircular(m.Priority):
		return m.Priority
	case IsCircular(f.maxLevel):
		m.Priority = CircularReferenceCollateral
		return m.Priority
	}
	m.Priority = f.maxLevel
	if f.maxLevel < f.level {
		return f.level
	}
	return f.maxLevel + 1
}

// cyclePath lists the stack from r to the top, then r again.
func cyclePath(stack []*frame, r *Module) []string {
	start := 0
	for i, f := range stack {
		if f.module == r {
			start = i
			break
		}
	}
	path := make([]string, 0, len(stack)-start+1)
	for _, f := range stack[start:] {
		path = append(path, f.module.identity)
	}
	return append(path, r.identity)
}
