package main

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"

	"fortio.org/log"

	"github.com/ldemailly/buildgraph/build"
	"github.com/ldemailly/buildgraph/graph"
)

// --- Color Palettes ---
var (
	buildableColor  = "lightblue"
	externalColor   = "lightgrey"
	cycleColor      = "red"    // border of the module closing a cycle
	collateralColor = "orange" // border of modules depending on a cycle
)

// Report kinds accepted by -report.
const (
	reportDepth  = "depth"
	reportTree   = "tree"
	reportDot    = "dot"
	reportLevels = "levels"
)

func writeReport(w io.Writer, kind string, reg *graph.Registry, residual build.ResidualPolicy) error {
	bw := bufio.NewWriter(w)
	switch kind {
	case reportDepth:
		writeDepthReport(bw, reg)
	case reportTree:
		writeTreeReport(bw, reg)
	case reportDot:
		writeDotReport(bw, reg)
	case reportLevels:
		writeLevelsReport(bw, reg, residual)
	default:
		return fmt.Errorf("unknown report %q", kind)
	}
	return bw.Flush()
}

// byPriority returns the modules ordered by priority then identity.
func byPriority(reg *graph.Registry) []*graph.Module {
	modules := reg.Sorted()
	sort.SliceStable(modules, func(i, j int) bool {
		return modules[i].Priority < modules[j].Priority
	})
	return modules
}

func writeDepthReport(w io.Writer, reg *graph.Registry) {
	for _, m := range byPriority(reg) {
		fmt.Fprintf(w, "%s - Priority : %s\n", m.Identity(), graph.PriorityString(m.Priority))
	}
}

// writeTreeReport prints every module followed by its references, indented
// by depth. A reference already on the current path is marked as a cycle, and
// a subtree already printed under the same root is marked instead of being
// expanded again.
func writeTreeReport(w io.Writer, reg *graph.Registry) {
	onPath := make(map[string]bool)
	var expanded map[string]bool
	var walk func(m *graph.Module, depth int)
	walk = func(m *graph.Module, depth int) {
		id := m.Identity()
		indent := strings.Repeat(" ", depth*4)
		refs := reg.References(m)
		switch {
		case onPath[id]:
			fmt.Fprintf(w, "%s%s (cycle)\n", indent, id)
			return
		case expanded[id] && len(refs) > 0:
			fmt.Fprintf(w, "%s%s (see above)\n", indent, id)
			return
		}
		fmt.Fprintf(w, "%s%s\n", indent, id)
		expanded[id] = true
		onPath[id] = true
		for _, r := range refs {
			walk(r, depth+1)
		}
		delete(onPath, id)
	}
	for _, m := range byPriority(reg) {
		expanded = make(map[string]bool)
		walk(m, 0)
	}
}

func writeDotReport(w io.Writer, reg *graph.Registry) {
	fmt.Fprintln(w, "digraph dependencies {")
	fmt.Fprintln(w, "  rankdir=\"BT\";")
	fmt.Fprintln(w, "  node [shape=box, style=\"rounded,filled\", fontname=\"Helvetica\"];")
	fmt.Fprintln(w, "  edge [fontname=\"Helvetica\", fontsize=10];")

	modules := reg.Sorted()
	fmt.Fprintln(w, "\n  // Node Definitions")
	for _, m := range modules {
		color := externalColor
		if m.Buildable() {
			color = buildableColor
		}
		label := fmt.Sprintf("%s\\n%s", m.Identity(), graph.PriorityString(m.Priority))
		attrs := []string{
			fmt.Sprintf("label=\"%s\"", dotEscape(label)),
			fmt.Sprintf("fillcolor=\"%s\"", color),
		}
		switch m.Priority {
		case graph.CircularReference:
			log.LogVf("Highlighting cycle node in DOT: %s", m.Identity())
			attrs = append(attrs, fmt.Sprintf("color=\"%s\"", cycleColor), "penwidth=2")
		case graph.CircularReferenceCollateral:
			attrs = append(attrs, fmt.Sprintf("color=\"%s\"", collateralColor), "penwidth=2")
		}
		fmt.Fprintf(w, "  \"%s\" [%s];\n", dotEscape(m.Identity()), strings.Join(attrs, ", "))
	}

	fmt.Fprintln(w, "\n  // Edges (References)")
	for _, m := range modules {
		for _, r := range reg.References(m) {
			var attrs string
			if graph.IsCircular(m.Priority) && graph.IsCircular(r.Priority) {
				attrs = fmt.Sprintf(" [color=\"%s\", penwidth=1.5]", cycleColor)
			}
			fmt.Fprintf(w, "  \"%s\" -> \"%s\"%s;\n", dotEscape(m.Identity()), dotEscape(r.Identity()), attrs)
		}
	}
	fmt.Fprintln(w, "}")
}

func dotEscape(s string) string {
	return strings.ReplaceAll(s, "\"", "\\\"")
}

// writeLevelsReport prints the build stages, leaves first, then the modules
// that will not be built. Mutual references are printed as A <-> B pairs.
func writeLevelsReport(w io.Writer, reg *graph.Registry, residual build.ResidualPolicy) {
	stages, excluded := build.Plan(reg, residual)
	fmt.Fprintln(w, "Build Stages (Leaves First):")
	for i, st := range stages {
		name := ""
		if st.Residual {
			name = " (Unresolved)"
		}
		printLevel(w, reg, st.Modules, fmt.Sprintf("Level %d%s", i, name))
	}
	printLevel(w, reg, excluded, "Not built (Cycles)")
}

func printLevel(w io.Writer, reg *graph.Registry, modules []*graph.Module, title string) {
	if len(modules) == 0 {
		return
	}
	fmt.Fprintf(w, "%s:\n", title)
	inLevel := make(map[string]bool, len(modules))
	for _, m := range modules {
		inLevel[m.Identity()] = true
	}
	printed := make(map[string]bool)
	for _, m := range modules {
		id := m.Identity()
		if printed[id] {
			continue
		}
		printed[id] = true
		partner := ""
		for _, r := range reg.References(m) {
			rid := r.Identity()
			if inLevel[rid] && !printed[rid] && r.HasReference(id) {
				partner = rid
				break
			}
		}
		if partner != "" {
			printed[partner] = true
			fmt.Fprintf(w, "  - %s <-> %s\n", id, partner)
			continue
		}
		fmt.Fprintf(w, "  - %s\n", id)
	}
}
