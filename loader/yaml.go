package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/ldemailly/buildgraph/graph"
)

type solutionFile struct {
	Name     string   `yaml:"name"`
	Projects []string `yaml:"projects" validate:"required,dive,required"`
}

func decodeYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%s: empty document", path)
		}
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func (l *Loader) loadYAML(path string) (*graph.Description, error) {
	var fd fileDescription
	if err := decodeYAML(path, &fd); err != nil {
		return nil, err
	}
	return l.toDescription(path, &fd)
}

func (l *Loader) loadSolution(path string) ([]string, error) {
	var sf solutionFile
	if err := decodeYAML(path, &sf); err != nil {
		return nil, err
	}
	if err := l.validate.Struct(&sf); err != nil {
		return nil, fmt.Errorf("invalid solution %s: %w", path, err)
	}
	members := make([]string, 0, len(sf.Projects))
	for _, p := range sf.Projects {
		members = append(members, filepath.FromSlash(p))
	}
	return members, nil
}
