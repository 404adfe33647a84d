package build

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ldemailly/buildgraph/graph"
)

func TestGoBuildArgs(t *testing.T) {
	sep := string(filepath.Separator)
	assert.Equal(t, []string{"build", "-gcflags=all=-N -l", "./..."}, goBuildArgs(Config{Configuration: "debug"}, ""))
	assert.Equal(t, []string{"build", "-trimpath", "-ldflags=-s -w", "-o", "/out" + sep, "./..."},
		goBuildArgs(Config{Configuration: Release}, "/out"))
	assert.Equal(t, []string{"build", "./..."}, goBuildArgs(Config{Configuration: "Custom"}, ""))
}

func TestShellAction(t *testing.T) {
	dir := t.TempDir()
	desc := filepath.Join(dir, "app", "app.module.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(desc), 0o755))
	m := graph.NewModule("app@v1.0.0", desc)
	out := filepath.Join(dir, "out", "nested")
	var logBuf bytes.Buffer
	cfg := Config{Configuration: Release, OutputDir: out, Log: NewLockedWriter(&logBuf)}

	a := ShellAction{Command: `printf '%s %s' "$MODULE_IDENTITY" "$BUILD_CONFIGURATION" > "$BUILD_OUTPUT_DIR/id.txt" && echo built`}
	require.NoError(t, a.Build(context.Background(), m, cfg))
	data, err := os.ReadFile(filepath.Join(out, "id.txt"))
	require.NoError(t, err)
	assert.Equal(t, "app@v1.0.0 Release", string(data))
	assert.Contains(t, logBuf.String(), "=== app@v1.0.0")
	assert.Contains(t, logBuf.String(), "built\n")

	logBuf.Reset()
	err = ShellAction{Command: "echo oops >&2; exit 3"}.Build(context.Background(), m, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "building app@v1.0.0")
	assert.Contains(t, logBuf.String(), "oops")
	assert.Contains(t, logBuf.String(), "--- FAILED")
}

func TestActionFunc(t *testing.T) {
	var got string
	a := ActionFunc(func(_ context.Context, m *graph.Module, cfg Config) error {
		got = m.Identity() + "/" + cfg.Configuration
		return nil
	})
	require.NoError(t, a.Build(context.Background(), graph.NewModule("x", "x.desc"), Config{Configuration: Debug}))
	assert.Equal(t, "x/Debug", got)
}
