package main

import (
	"crypto/sha1"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"fortio.org/log"
	"github.com/google/go-github/v62/github"
)

// CachedListResponse is one page of a repository listing.
type CachedListResponse struct {
	Repos    []*github.Repository
	NextPage int
}

// CachedContentResponse records a file lookup, including misses.
type CachedContentResponse struct {
	Found       bool
	FileContent *github.RepositoryContent
}

// responseCache stores GitHub API responses as JSON files named after the
// sha1 of the request. A disabled cache misses on every read and drops every
// write.
type responseCache struct {
	dir     string
	enabled bool
}

// newResponseCache returns a cache in dir, or in the user cache directory
// when dir is empty.
func newResponseCache(dir string, enabled bool) (*responseCache, error) {
	if !enabled {
		return &responseCache{}, nil
	}
	if dir == "" {
		userCacheDir, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user cache directory: %w", err)
		}
		dir = filepath.Join(userCacheDir, "buildgraph_cache")
	}
	log.LogVf("Using GitHub response cache directory: %s", dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &responseCache{dir: dir, enabled: true}, nil
}

func (c *responseCache) clear() error {
	if c.dir == "" {
		return errors.New("cache directory not initialized")
	}
	log.Infof("Clearing cache directory: %s", c.dir)
	return os.RemoveAll(c.dir)
}

func (c *responseCache) key(parts ...string) string {
	h := sha1.New()
	for _, p := range parts {
		_, _ = io.WriteString(h, p)
		_, _ = io.WriteString(h, "|")
	}
	return filepath.Join(c.dir, fmt.Sprintf("%x.json", h.Sum(nil)))
}

// read loads the entry for key into target and reports whether it was found.
// An unreadable entry is treated as a miss.
func (c *responseCache) read(key string, target any) (bool, error) {
	if !c.enabled {
		return false, nil
	}
	data, err := os.ReadFile(key)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("error reading cache file %s: %w", key, err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		log.Warnf("Error unmarshaling cache file %s, ignoring cache: %v", key, err)
		return false, nil
	}
	return true, nil
}

func (c *responseCache) write(key string, data any) error {
	if !c.enabled {
		return nil
	}
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data for cache key %s: %w", key, err)
	}
	if err := os.WriteFile(key, jsonData, 0o644); err != nil {
		return fmt.Errorf("failed to write cache file %s: %w", key, err)
	}
	log.LogVf("Cache write: %s", key)
	return nil
}
