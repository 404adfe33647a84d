package graph

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLoader serves descriptions registered by absolute path. Files ending in
// .desc are descriptions, .agg aggregators.
type fakeLoader struct {
	descs map[string]*Description
	aggs  map[string][]string
	loads map[string]int
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{
		descs: make(map[string]*Description),
		aggs:  make(map[string][]string),
		loads: make(map[string]int),
	}
}

func (l *fakeLoader) Kind(path string) FileKind {
	switch filepath.Ext(path) {
	case ".desc":
		return KindDescription
	case ".agg":
		return KindAggregator
	}
	return KindUnknown
}

func (l *fakeLoader) LoadDescription(path string) (*Description, error) {
	key := pathKey(path)
	l.loads[key]++
	d, ok := l.descs[key]
	if !ok {
		return nil, os.ErrNotExist
	}
	return d, nil
}

func (l *fakeLoader) LoadAggregator(path string) ([]string, error) {
	members, ok := l.aggs[pathKey(path)]
	if !ok {
		return nil, errors.New("malformed aggregator")
	}
	return members, nil
}

type fixture struct {
	t      *testing.T
	dir    string
	loader *fakeLoader
}

func newFixture(t *testing.T) *fixture {
	return &fixture{t: t, dir: t.TempDir(), loader: newFakeLoader()}
}

// desc writes an (empty) description file at rel and registers its content.
func (f *fixture) desc(rel, name string, refs ...Reference) string {
	f.t.Helper()
	path := filepath.Join(f.dir, rel)
	require.NoError(f.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(f.t, os.WriteFile(path, nil, 0o644))
	f.loader.descs[pathKey(path)] = &Description{Path: path, Name: name, References: refs}
	return path
}

func (f *fixture) agg(rel string, members ...string) string {
	f.t.Helper()
	path := filepath.Join(f.dir, rel)
	require.NoError(f.t, os.WriteFile(path, nil, 0o644))
	f.loader.aggs[pathKey(path)] = members
	return path
}

func internal(path string) Reference { return Reference{Kind: RefInternal, Value: path} }
func external(name string) Reference { return Reference{Kind: RefExternal, Value: name} }

func identities(reg *Registry) []string {
	var out []string
	for _, m := range reg.Modules() {
		out = append(out, m.Identity())
	}
	return out
}

func TestDiscover_LinearChainByPath(t *testing.T) {
	f := newFixture(t)
	a := f.desc("a/a.desc", "A", internal("../b/b.desc"))
	f.desc("b/b.desc", "B", internal("../c/c.desc"))
	f.desc("c/c.desc", "C")

	reg := NewRegistry()
	rec := &Recorder{}
	require.NoError(t, NewBuilder(reg, f.loader, rec).Discover(context.Background(), []string{a}))

	assert.Equal(t, []string{"C", "B", "A"}, identities(reg))
	assert.Equal(t, map[string]int{"A": 2, "B": 1, "C": 0}, priorities(reg))
	assert.Empty(t, rec.Errors())

	var discovering, resolving int
	for _, ev := range rec.Events() {
		switch ev.Status.Phase() {
		case Discovering:
			discovering++
			assert.Equal(t, Event{Status: StatusDiscovering, Name: a, Index: 1, Total: 1}, ev)
		case Resolving:
			resolving++
			assert.Equal(t, 3, ev.Total)
		}
	}
	assert.Equal(t, 1, discovering)
	assert.Equal(t, 3, resolving)
}

func TestDiscover_DirectCycleByPath(t *testing.T) {
	f := newFixture(t)
	a := f.desc("a.desc", "A", internal("b.desc"))
	f.desc("b.desc", "B", internal("a.desc"))

	reg := NewRegistry()
	rec := &Recorder{}
	require.NoError(t, NewBuilder(reg, f.loader, rec).Discover(context.Background(), []string{a}))

	assert.Equal(t, CircularReference, mustGet(t, reg, "B").Priority)
	assert.Equal(t, CircularReferenceCollateral, mustGet(t, reg, "A").Priority)
	errs := cycleErrors(rec)
	require.Len(t, errs, 1)
	assert.Equal(t, "B -> A -> B", errs[0].Cycle())
	assert.Equal(t, 1, f.loader.loads[pathKey(a)], "a path cycle must not reload descriptions")
}

func TestDiscover_Idempotent(t *testing.T) {
	f := newFixture(t)
	a := f.desc("a.desc", "A", internal("b.desc"), external("ext@1.0"))
	b := f.desc("b.desc", "B")

	reg := NewRegistry()
	builder := NewBuilder(reg, f.loader, nil)
	require.NoError(t, builder.Discover(context.Background(), []string{a, b, a}))
	first := identities(reg)
	require.NoError(t, builder.Discover(context.Background(), []string{a}))
	require.NoError(t, NewBuilder(reg, f.loader, nil).Discover(context.Background(), []string{b, a}))

	assert.Equal(t, first, identities(reg))
	assert.Len(t, reg.Modules(), 3)
	assert.ElementsMatch(t, []string{"A", "B", "ext@v1.0.0"}, first)
}

func TestDiscover_SameIdentityTwoPaths(t *testing.T) {
	f := newFixture(t)
	one := f.desc("one/x.desc", "X")
	two := f.desc("two/x.desc", "X")

	reg := NewRegistry()
	require.NoError(t, NewBuilder(reg, f.loader, nil).Discover(context.Background(), []string{one, two}))
	require.Equal(t, 1, reg.Len())
	assert.Equal(t, one, mustGet(t, reg, "X").SourcePath)
}

func TestDiscover_InputNotFound(t *testing.T) {
	f := newFixture(t)
	a := f.desc("a.desc", "A")
	missingFile := filepath.Join(f.dir, "nope.desc")
	missingDir := filepath.Join(f.dir, "nodir")

	reg := NewRegistry()
	rec := &Recorder{}
	err := NewBuilder(reg, f.loader, rec).Discover(context.Background(), []string{missingFile, a, missingDir})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInputNotFound)

	var notFound []*InputNotFoundError
	for _, e := range rec.Errors() {
		var inf *InputNotFoundError
		if errors.As(e, &inf) {
			notFound = append(notFound, inf)
		}
	}
	require.Len(t, notFound, 2)
	assert.False(t, notFound[0].Dir)
	assert.True(t, notFound[1].Dir)
	assert.Contains(t, notFound[1].Error(), "directory")

	_, ok := reg.Get("A")
	assert.True(t, ok, "sibling input must still be discovered")
}

func TestDiscover_LoadErrorContinues(t *testing.T) {
	f := newFixture(t)
	a := f.desc("a.desc", "A", internal("missing.desc"), internal("b.desc"))
	f.desc("b.desc", "B")

	reg := NewRegistry()
	rec := &Recorder{}
	require.NoError(t, NewBuilder(reg, f.loader, rec).Discover(context.Background(), []string{a}))

	require.Len(t, rec.Errors(), 1)
	assert.ErrorIs(t, rec.Errors()[0], ErrDescriptionLoad)
	assert.ErrorIs(t, rec.Errors()[0], os.ErrNotExist)
	assert.Equal(t, []string{"B", "A"}, identities(reg))
	assert.Equal(t, 1, mustGet(t, reg, "A").Priority)
}

func TestDiscover_ExternalReferences(t *testing.T) {
	f := newFixture(t)
	a := f.desc("a.desc", "A", external("Lib, Version=1.2, Culture=neutral"), external("other"))

	reg := NewRegistry()
	require.NoError(t, NewBuilder(reg, f.loader, nil).Discover(context.Background(), []string{a}))

	lib := mustGet(t, reg, "Lib@v1.2.0")
	assert.False(t, lib.Buildable())
	assert.Equal(t, 0, lib.Priority)
	assert.Equal(t, 1, mustGet(t, reg, "A").Priority)
	assert.Equal(t, []string{"Lib@v1.2.0", "other"}, mustGet(t, reg, "A").References())
	assert.Len(t, reg.Buildable(), 1)
}

func TestDiscover_PromotesExternalReference(t *testing.T) {
	f := newFixture(t)
	a := f.desc("a.desc", "A", external("B"))
	b := f.desc("b.desc", "B", external("C"))

	reg := NewRegistry()
	require.NoError(t, NewBuilder(reg, f.loader, nil).Discover(context.Background(), []string{a, b}))

	mb := mustGet(t, reg, "B")
	assert.Equal(t, b, mb.SourcePath)
	assert.Equal(t, []string{"C"}, mb.References())
	assert.Len(t, reg.Buildable(), 2)
	assertMonotonic(t, reg)
	assert.Greater(t, mustGet(t, reg, "A").Priority, mb.Priority)
}

func TestDiscover_Directory(t *testing.T) {
	f := newFixture(t)
	f.desc("src/a/a.desc", "A", external("B"))
	f.desc("src/b/b.desc", "B")
	f.desc("src/.git/hidden.desc", "Hidden")
	f.desc("src/vendor/v.desc", "Vendored")
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "src", "README"), []byte("x"), 0o644))

	reg := NewRegistry()
	rec := &Recorder{}
	require.NoError(t, NewBuilder(reg, f.loader, rec).Discover(context.Background(), []string{filepath.Join(f.dir, "src")}))

	assert.ElementsMatch(t, []string{"A", "B"}, identities(reg))
	assert.Len(t, reg.Buildable(), 2)
	assert.Empty(t, rec.Errors())
}

func TestDiscover_Aggregator(t *testing.T) {
	f := newFixture(t)
	f.desc("sln/p1/p1.desc", "P1", internal("../p2/p2.desc"))
	f.desc("sln/p2/p2.desc", "P2")
	sln := f.agg("sln/all.agg", "p1/p1.desc", "p2/p2.desc")
	bad := f.agg("bad.agg")
	delete(f.loader.aggs, pathKey(bad))

	reg := NewRegistry()
	rec := &Recorder{}
	require.NoError(t, NewBuilder(reg, f.loader, rec).Discover(context.Background(), []string{bad, sln}))

	assert.Equal(t, []string{"P2", "P1"}, identities(reg))
	require.Len(t, rec.Errors(), 1)
	assert.ErrorIs(t, rec.Errors()[0], ErrDescriptionLoad)
}

func TestDiscover_SelfReference(t *testing.T) {
	f := newFixture(t)
	a := f.desc("a.desc", "A", external("A"))
	b := f.desc("b.desc", "B", external("A"))

	reg := NewRegistry()
	rec := &Recorder{}
	require.NoError(t, NewBuilder(reg, f.loader, rec).Discover(context.Background(), []string{a, b}))

	assert.Equal(t, CircularReference, mustGet(t, reg, "A").Priority)
	assert.Equal(t, CircularReferenceCollateral, mustGet(t, reg, "B").Priority)
	assert.Empty(t, mustGet(t, reg, "A").References())
	errs := cycleErrors(rec)
	require.Len(t, errs, 1)
	assert.Equal(t, "A -> A", errs[0].Cycle())
}

type fakeSource struct {
	descs []*Description
	err   error
}

func (s *fakeSource) Match(input string) bool { return strings.HasPrefix(input, "remote:") }

func (s *fakeSource) Fetch(_ context.Context, _ string) ([]*Description, error) {
	return s.descs, s.err
}

func TestDiscover_RemoteSource(t *testing.T) {
	f := newFixture(t)
	local := f.desc("r1.desc", "R1", external("R2"))
	src := &fakeSource{descs: []*Description{
		{Name: "R1", References: []Reference{external("ignored")}},
		{Name: "R2", References: []Reference{external("R3")}},
	}}

	reg := NewRegistry()
	require.NoError(t, NewBuilder(reg, f.loader, nil, src).Discover(context.Background(), []string{local, "remote:org"}))

	r1 := mustGet(t, reg, "R1")
	assert.True(t, r1.Buildable())
	assert.Equal(t, []string{"R2"}, r1.References(), "a local module is not overridden by a remote one")
	r2 := mustGet(t, reg, "R2")
	assert.False(t, r2.Buildable())
	assert.Equal(t, []string{"R3"}, r2.References())
	assert.Equal(t, 2, r1.Priority)

	src.err = errors.New("rate limited")
	err := NewBuilder(NewRegistry(), f.loader, nil, src).Discover(context.Background(), []string{"remote:org"})
	assert.ErrorContains(t, err, "rate limited")
}

func TestDiscover_CanceledContext(t *testing.T) {
	f := newFixture(t)
	a := f.desc("a.desc", "A")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewBuilder(NewRegistry(), f.loader, nil).Discover(ctx, []string{a})
	assert.ErrorIs(t, err, context.Canceled)
}
