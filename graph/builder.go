package graph

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"fortio.org/log"
)

// FileKind classifies a discovery input file.
type FileKind int

const (
	KindUnknown     FileKind = iota
	KindDescription          // one buildable module
	KindAggregator           // a solution/workspace listing member descriptions
)

// RefKind tells how a declared reference designates its target.
type RefKind int

const (
	RefExternal RefKind = iota // by name (and optional version)
	RefInternal                // by path to another description
)

// Reference is one declared outgoing dependency of a description.
type Reference struct {
	Kind  RefKind
	Value string // name for RefExternal, path for RefInternal
}

// Description is what a loader extracts from a module description file.
type Description struct {
	Path       string // empty for remote descriptions
	Name       string
	Version    string
	References []Reference
}

// Identity of the described module.
func (d *Description) Identity() string {
	return NewIdentity(d.Name, d.Version)
}

// Loader reads module descriptions and aggregators.
type Loader interface {
	Kind(path string) FileKind
	LoadDescription(path string) (*Description, error)
	// LoadAggregator returns member description paths, relative to the
	// aggregator's directory unless absolute.
	LoadAggregator(path string) ([]string, error)
}

// Source discovers descriptions for inputs that are not local paths.
// Remote descriptions are registered but never built.
type Source interface {
	Match(input string) bool
	Fetch(ctx context.Context, input string) ([]*Description, error)
}

// Builder walks discovery inputs and populates a Registry.
type Builder struct {
	reg     *Registry
	loader  Loader
	obs     Observer
	sources []Source

	byPath     map[string]*Module // loaded (or loading) descriptions by absolute path
	inProgress map[string]*Module // identities whose internal references are being loaded
}

// NewBuilder returns a Builder filling reg.
func NewBuilder(reg *Registry, loader Loader, obs Observer, sources ...Source) *Builder {
	if obs == nil {
		obs = Nop{}
	}
	return &Builder{
		reg:        reg,
		loader:     loader,
		obs:        obs,
		sources:    sources,
		byPath:     make(map[string]*Module),
		inProgress: make(map[string]*Module),
	}
}

// pending is one top level unit of discovery work.
type pending struct {
	path string       // local description
	desc *Description // already fetched remote description
}

// Discover loads every input, registers the modules found and resolves the
// build priority of every registered module. Inputs that do not exist are
// reported and returned joined; every other failure is reported to the
// observer and discovery goes on.
func (b *Builder) Discover(ctx context.Context, inputs []string) error {
	var errs []error
	var work []pending
	for _, input := range inputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		items, err := b.expand(ctx, input)
		if err != nil {
			b.obs.Error(err)
			errs = append(errs, err)
			if ctx.Err() != nil {
				return errors.Join(errs...)
			}
			continue
		}
		work = append(work, items...)
	}

	total := len(work)
	log.Infof("Discovering %d module descriptions", total)
	for i, w := range work {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		if w.desc != nil {
			b.obs.Progress(Event{Status: StatusDiscovering, Name: w.desc.Identity(), Index: i + 1, Total: total})
			b.appendRemote(w.desc)
			continue
		}
		b.obs.Progress(Event{Status: StatusDiscovering, Name: w.path, Index: i + 1, Total: total})
		b.appendDescription(w.path)
	}
	log.Infof("Registered %d modules (%d buildable)", b.reg.Len(), len(b.reg.Buildable()))

	NewResolver(b.reg, b.obs).ResolveAll()
	return errors.Join(errs...)
}

// expand turns one input into description paths or fetched descriptions.
func (b *Builder) expand(ctx context.Context, input string) ([]pending, error) {
	for _, s := range b.sources {
		if !s.Match(input) {
			continue
		}
		descs, err := s.Fetch(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("fetching %s: %w", input, err)
		}
		items := make([]pending, 0, len(descs))
		for _, d := range descs {
			items = append(items, pending{desc: d})
		}
		return items, nil
	}

	fi, err := os.Stat(input)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &InputNotFoundError{Path: input, Dir: filepath.Ext(input) == ""}
		}
		return nil, fmt.Errorf("stat %s: %w", input, err)
	}
	if fi.IsDir() {
		return b.scanDirectory(input)
	}
	if b.loader.Kind(input) == KindAggregator {
		return b.aggregatorMembers(input), nil
	}
	return []pending{{path: input}}, nil
}

// scanDirectory collects the descriptions found under dir, in lexical order.
// Hidden directories and vendor trees are skipped.
func (b *Builder) scanDirectory(dir string) ([]pending, error) {
	var items []pending
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			log.Warnf("Skipping %s: %v", path, err)
			return nil
		}
		if d.IsDir() {
			name := d.Name()
			if path != dir && (strings.HasPrefix(name, ".") || name == "vendor") {
				return filepath.SkipDir
			}
			return nil
		}
		if b.loader.Kind(path) == KindDescription {
			items = append(items, pending{path: path})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", dir, err)
	}
	log.LogVf("Found %d descriptions under %s", len(items), dir)
	return items, nil
}

func (b *Builder) aggregatorMembers(path string) []pending {
	members, err := b.loader.LoadAggregator(path)
	if err != nil {
		b.obs.Error(&DescriptionLoadError{Path: path, Err: err})
		return nil
	}
	base := filepath.Dir(path)
	items := make([]pending, 0, len(members))
	for _, member := range members {
		if !filepath.IsAbs(member) {
			member = filepath.Join(base, member)
		}
		items = append(items, pending{path: member})
	}
	log.LogVf("Aggregator %s lists %d members", path, len(items))
	return items
}

// appendDescription loads the description at path, registers its module and
// eagerly loads its internal references. It returns nil when the description
// cannot be loaded.
func (b *Builder) appendDescription(path string) *Module {
	key := pathKey(path)
	if m, ok := b.byPath[key]; ok {
		return m
	}
	desc, err := b.loader.LoadDescription(path)
	if err == nil && desc.Identity() == "" {
		err = errors.New("description has no name")
	}
	if err != nil {
		log.Warnf("Unable to load %s: %v", path, err)
		b.obs.Error(&DescriptionLoadError{Path: path, Err: err})
		return nil
	}
	id := desc.Identity()

	if m, ok := b.inProgress[id]; ok {
		log.LogVf("Module %s at %s is already being loaded from %s", id, path, m.SourcePath)
		b.byPath[key] = m
		return m
	}
	existing, registered := b.reg.Get(id)
	if registered && existing.Buildable() {
		log.LogVf("Module %s already registered from %s, ignoring %s", id, existing.SourcePath, path)
		b.byPath[key] = existing
		return existing
	}
	m := existing
	if registered {
		// Known so far only as an external reference.
		log.LogVf("Promoting external reference %s to %s", id, path)
		m.SourcePath = path
	} else {
		m = NewModule(id, path)
	}
	b.byPath[key] = m
	b.inProgress[id] = m
	log.LogVf("Loading %s (%s)", id, path)

	base := filepath.Dir(path)
	for _, ref := range desc.References {
		var target *Module
		switch ref.Kind {
		case RefExternal:
			target = b.external(ref.Value)
		case RefInternal:
			p := ref.Value
			if !filepath.IsAbs(p) {
				p = filepath.Join(base, p)
			}
			target = b.appendDescription(p)
		}
		if target != nil {
			b.link(m, target)
		}
	}

	delete(b.inProgress, id)
	if !registered {
		b.reg.Add(m)
	}
	return m
}

// appendRemote registers a fetched description as a non buildable module.
func (b *Builder) appendRemote(desc *Description) {
	id := desc.Identity()
	if id == "" {
		return
	}
	m, ok := b.reg.Get(id)
	if ok && m.Buildable() {
		log.LogVf("Remote module %s shadowed by local %s", id, m.SourcePath)
		return
	}
	if !ok {
		m, _ = b.reg.Add(NewModule(id, ""))
	}
	for _, ref := range desc.References {
		if ref.Kind != RefExternal {
			continue
		}
		b.link(m, b.external(ref.Value))
	}
}

// external returns the module named by ref, registering an external
// placeholder on first sight.
func (b *Builder) external(ref string) *Module {
	id := ParseIdentity(ref)
	if id == "" {
		return nil
	}
	if m, ok := b.inProgress[id]; ok {
		return m
	}
	m, added := b.reg.Add(NewModule(id, ""))
	if added {
		log.LogVf("Registered external reference %s", id)
	}
	return m
}

func (b *Builder) link(from, to *Module) {
	err := from.AddReference(to.identity)
	if err == nil {
		return
	}
	if errors.Is(err, ErrSelfReference) {
		from.Priority = CircularReference
		cerr := &CircularReferenceError{Path: []string{from.identity, from.identity}}
		log.Warnf("Circular reference: %s", cerr.Cycle())
		b.obs.Error(cerr)
		return
	}
	b.obs.Error(fmt.Errorf("linking %s to %s: %w", from.identity, to.identity, err))
}

func pathKey(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}
