package graph

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"fortio.org/log"
	"github.com/google/uuid"
)

// cacheFormatVersion is bumped whenever the cache layout changes.
const cacheFormatVersion = 1

// cacheFile is the on-disk form of an analysed registry.
type cacheFile struct {
	Version int            `json:"version"`
	RunID   string         `json:"run_id"`
	Created time.Time      `json:"created"`
	Modules []cachedModule `json:"modules"`
}

type cachedModule struct {
	Identity   string   `json:"identity"`
	SourcePath string   `json:"source_path,omitempty"`
	Priority   int      `json:"priority"`
	References []string `json:"references,omitempty"`
}

// Save writes the whole registry to path, creating its directory if needed.
func Save(path string, reg *Registry) error {
	data := cacheFile{
		Version: cacheFormatVersion,
		RunID:   uuid.NewString(),
		Created: time.Now().UTC(),
		Modules: make([]cachedModule, 0, reg.Len()),
	}
	for _, m := range reg.Modules() {
		data.Modules = append(data.Modules, cachedModule{
			Identity:   m.identity,
			SourcePath: m.SourcePath,
			Priority:   m.Priority,
			References: m.References(),
		})
	}
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return &CacheIOError{Path: path, Err: fmt.Errorf("marshaling registry: %w", err)}
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &CacheIOError{Path: path, Err: err}
		}
	}
	if err := os.WriteFile(path, jsonData, 0o644); err != nil {
		return &CacheIOError{Path: path, Err: err}
	}
	log.Infof("Saved %d modules to %s (run %s)", len(data.Modules), path, data.RunID)
	return nil
}

// Load restores a registry saved with Save. A missing file is a CacheIOError
// wrapping fs.ErrNotExist.
func Load(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &CacheIOError{Path: path, Err: err}
	}
	var data cacheFile
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, &CacheIOError{Path: path, Err: fmt.Errorf("corrupt cache: %w", err)}
	}
	if data.Version != cacheFormatVersion {
		return nil, &CacheIOError{Path: path, Err: fmt.Errorf("unsupported cache version %d, expected %d", data.Version, cacheFormatVersion)}
	}
	reg := NewRegistry()
	for _, cm := range data.Modules {
		if cm.Identity == "" {
			return nil, &CacheIOError{Path: path, Err: fmt.Errorf("corrupt cache: module without identity")}
		}
		m := NewModule(cm.Identity, cm.SourcePath)
		m.Priority = cm.Priority
		for _, ref := range cm.References {
			if err := m.AddReference(ref); err != nil {
				return nil, &CacheIOError{Path: path, Err: fmt.Errorf("corrupt cache: %s: %w", cm.Identity, err)}
			}
		}
		if _, added := reg.Add(m); !added {
			return nil, &CacheIOError{Path: path, Err: fmt.Errorf("corrupt cache: duplicate module %s", cm.Identity)}
		}
	}
	log.Infof("Loaded %d modules from %s (run %s, %s)", reg.Len(), path, data.RunID, data.Created.Format(time.RFC3339))
	return reg, nil
}
