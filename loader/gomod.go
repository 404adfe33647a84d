package loader

import (
	"fmt"
	"os"
	"path/filepath"

	"fortio.org/log"
	"golang.org/x/mod/modfile"

	"github.com/ldemailly/buildgraph/graph"
)

func loadGoMod(path string) (*graph.Description, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	d, err := ParseGoMod(path, data)
	if err != nil {
		return nil, err
	}
	d.Path = path
	return d, nil
}

// ParseGoMod extracts a description from go.mod content: the module path is
// the name, direct requirements are external references and replacements by
// a local directory of a direct requirement are internal references.
// Versions of requirements are dropped, only structure matters.
func ParseGoMod(name string, data []byte) (*graph.Description, error) {
	f, err := modfile.Parse(name, data, nil)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", name, err)
	}
	if f.Module == nil || f.Module.Mod.Path == "" {
		return nil, fmt.Errorf("%s: missing module directive", name)
	}
	d := &graph.Description{Name: f.Module.Mod.Path}
	direct := make(map[string]bool)
	for _, req := range f.Require {
		if req.Indirect {
			continue
		}
		direct[req.Mod.Path] = true
		d.References = append(d.References, graph.Reference{Kind: graph.RefExternal, Value: req.Mod.Path})
	}
	for _, rep := range f.Replace {
		if !direct[rep.Old.Path] || !modfile.IsDirectoryPath(rep.New.Path) {
			continue
		}
		target := filepath.Join(filepath.FromSlash(rep.New.Path), goModFile)
		log.LogVf("%s: %s replaced by local %s", name, rep.Old.Path, target)
		d.References = append(d.References, graph.Reference{Kind: graph.RefInternal, Value: target})
	}
	return d, nil
}

func loadGoWork(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := modfile.ParseWork(path, data, nil)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	members := make([]string, 0, len(f.Use))
	for _, use := range f.Use {
		members = append(members, filepath.Join(filepath.FromSlash(use.Path), goModFile))
	}
	return members, nil
}
