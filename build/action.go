// Package build runs the build action of every buildable module of an
// analysed graph, one priority stage at a time.
package build

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"fortio.org/log"

	"github.com/ldemailly/buildgraph/graph"
)

// Build configurations understood by GoAction.
const (
	Debug   = "Debug"
	Release = "Release"
)

// Config is passed to every Action.Build call.
type Config struct {
	Configuration string
	OutputDir     string    // where artifacts go, module directory when empty
	Log           io.Writer // receives the build output of each module, may be nil
}

// Action builds a single module. Implementations must be safe for concurrent
// use on independent modules.
type Action interface {
	Build(ctx context.Context, m *graph.Module, cfg Config) error
}

// ActionFunc adapts a function to Action.
type ActionFunc func(ctx context.Context, m *graph.Module, cfg Config) error

func (f ActionFunc) Build(ctx context.Context, m *graph.Module, cfg Config) error {
	return f(ctx, m, cfg)
}

// GoAction runs `go build ./...` in the module directory.
type GoAction struct {
	GoBin string // defaults to "go" from PATH
}

func goBuildArgs(cfg Config, outDir string) []string {
	args := []string{"build"}
	switch {
	case strings.EqualFold(cfg.Configuration, Debug):
		args = append(args, "-gcflags=all=-N -l")
	case strings.EqualFold(cfg.Configuration, Release):
		args = append(args, "-trimpath", "-ldflags=-s -w")
	}
	if outDir != "" {
		args = append(args, "-o", outDir+string(filepath.Separator))
	}
	return append(args, "./...")
}

func (a GoAction) Build(ctx context.Context, m *graph.Module, cfg Config) error {
	bin := a.GoBin
	if bin == "" {
		bin = "go"
	}
	outDir, err := prepareOutputDir(cfg.OutputDir)
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, bin, goBuildArgs(cfg, outDir)...)
	cmd.Dir = filepath.Dir(m.SourcePath)
	return run(cmd, m, cfg)
}

// ShellAction runs Command through `sh -c` in the module directory, with the
// module and configuration exposed as environment variables.
type ShellAction struct {
	Command string
}

func (a ShellAction) Build(ctx context.Context, m *graph.Module, cfg Config) error {
	outDir, err := prepareOutputDir(cfg.OutputDir)
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", a.Command)
	cmd.Dir = filepath.Dir(m.SourcePath)
	cmd.Env = append(os.Environ(),
		"MODULE_DIR="+cmd.Dir,
		"MODULE_IDENTITY="+m.Identity(),
		"BUILD_CONFIGURATION="+cfg.Configuration,
		"BUILD_OUTPUT_DIR="+outDir,
	)
	return run(cmd, m, cfg)
}

func prepareOutputDir(dir string) (string, error) {
	if dir == "" {
		return "", nil
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}
	return abs, nil
}

// run executes cmd, then writes its combined output to cfg.Log in one piece
// so concurrent builds do not interleave.
func run(cmd *exec.Cmd, m *graph.Module, cfg Config) error {
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	log.LogVf("Building %s: %s (in %s)", m.Identity(), strings.Join(cmd.Args, " "), cmd.Dir)
	err := cmd.Run()
	if cfg.Log != nil {
		var entry bytes.Buffer
		fmt.Fprintf(&entry, "=== %s (%s)\n", m.Identity(), m.SourcePath)
		entry.Write(out.Bytes())
		if err != nil {
			fmt.Fprintf(&entry, "--- FAILED: %v\n", err)
		}
		_, _ = cfg.Log.Write(entry.Bytes())
	}
	if err != nil {
		return fmt.Errorf("building %s: %w", m.Identity(), err)
	}
	return nil
}

// LockedWriter serializes writes to an underlying writer.
type LockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewLockedWriter(w io.Writer) *LockedWriter {
	return &LockedWriter{w: w}
}

func (l *LockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
