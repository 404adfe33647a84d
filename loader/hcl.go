package loader

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/ldemailly/buildgraph/graph"
)

// loadHCL reads a description of the form:
//
//	name       = "app"
//	version    = "1.2"
//	references = ["example.com/lib"]
//	projects   = ["../core/core.module.hcl"]
func (l *Loader) loadHCL(path string) (*graph.Description, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", path, diags)
	}
	var fd fileDescription
	diags = gohcl.DecodeBody(file.Body, nil, &fd)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", path, diags)
	}
	return l.toDescription(path, &fd)
}
