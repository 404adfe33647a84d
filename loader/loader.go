// Package loader reads module descriptions (go.mod, *.module.yaml,
// *.module.hcl) and aggregators (go.work, *.solution.yaml) into
// graph.Description values.
package loader

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ldemailly/buildgraph/graph"
)

const (
	goModFile  = "go.mod"
	goWorkFile = "go.work"
)

var (
	descriptionSuffixes = []string{".module.yaml", ".module.yml", ".module.hcl"}
	solutionSuffixes    = []string{".solution.yaml", ".solution.yml"}
)

// Loader implements graph.Loader for the supported file formats.
type Loader struct {
	validate *validator.Validate
}

// New returns a Loader.
func New() *Loader {
	return &Loader{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Kind classifies path by its file name.
func (l *Loader) Kind(path string) graph.FileKind {
	base := filepath.Base(path)
	switch {
	case base == goModFile, hasAnySuffix(base, descriptionSuffixes):
		return graph.KindDescription
	case base == goWorkFile, hasAnySuffix(base, solutionSuffixes):
		return graph.KindAggregator
	}
	return graph.KindUnknown
}

// LoadDescription reads the description at path.
func (l *Loader) LoadDescription(path string) (*graph.Description, error) {
	base := filepath.Base(path)
	switch {
	case base == goModFile:
		return loadGoMod(path)
	case strings.HasSuffix(base, ".module.hcl"):
		return l.loadHCL(path)
	case hasAnySuffix(base, descriptionSuffixes):
		return l.loadYAML(path)
	}
	return nil, fmt.Errorf("unrecognized description file %s", base)
}

// LoadAggregator returns the member descriptions listed by the aggregator at
// path, relative to its directory.
func (l *Loader) LoadAggregator(path string) ([]string, error) {
	base := filepath.Base(path)
	switch {
	case base == goWorkFile:
		return loadGoWork(path)
	case hasAnySuffix(base, solutionSuffixes):
		return l.loadSolution(path)
	}
	return nil, fmt.Errorf("unrecognized aggregator file %s", base)
}

// fileDescription is the common shape of the YAML and HCL formats.
type fileDescription struct {
	Name       string   `yaml:"name" hcl:"name" validate:"required"`
	Version    string   `yaml:"version" hcl:"version,optional"`
	References []string `yaml:"references" hcl:"references,optional" validate:"dive,required"`
	Projects   []string `yaml:"projects" hcl:"projects,optional" validate:"dive,required"`
}

func (l *Loader) toDescription(path string, fd *fileDescription) (*graph.Description, error) {
	if err := l.validate.Struct(fd); err != nil {
		return nil, fmt.Errorf("invalid description %s: %w", path, err)
	}
	d := &graph.Description{Path: path, Name: fd.Name, Version: fd.Version}
	for _, ref := range fd.References {
		d.References = append(d.References, graph.Reference{Kind: graph.RefExternal, Value: ref})
	}
	for _, p := range fd.Projects {
		d.References = append(d.References, graph.Reference{Kind: graph.RefInternal, Value: filepath.FromSlash(p)})
	}
	return d, nil
}

func hasAnySuffix(s string, suffixes []string) bool {
	for _, suffix := range suffixes {
		if strings.HasSuffix(s, suffix) {
			return true
		}
	}
	return false
}
