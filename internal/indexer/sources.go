package indexer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Source records the items one file contributed and the file state they were
// built from.
type Source struct {
	Path    string   `yaml:"path"`
	ModTime int64    `yaml:"mtime"`
	Size    int64    `yaml:"size"`
	PKs     []string `yaml:"item_pks"`
	// Stale holds PKs of a previous version whose delete failed; they are
	// retried on the next sync of the file.
	Stale []string `yaml:"stale_item_pks,omitempty"`
}

// Sources maps file paths to the items ingested from them. It is persisted as
// YAML after every change when opened with a path.
type Sources struct {
	mu      sync.Mutex
	path    string
	entries map[string]*Source
}

type sourcesFile struct {
	Sources []*Source `yaml:"sources"`
}

// OpenSources loads the source map at path. A missing file yields an empty
// map; an empty path yields a map that is never persisted.
func OpenSources(path string) (*Sources, error) {
	s := &Sources{path: path, entries: make(map[string]*Source)}
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sources: %w", err)
	}
	var f sourcesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse sources %s: %w", path, err)
	}
	for _, src := range f.Sources {
		s.entries[filepath.Clean(src.Path)] = src
	}
	return s, nil
}

// Get returns a copy of the source recorded for path.
func (s *Sources) Get(path string) (Source, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.entries[filepath.Clean(path)]
	if !ok {
		return Source{}, false
	}
	return *src, true
}

// Put records src and persists the map.
func (s *Sources) Put(src Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src.Path = filepath.Clean(src.Path)
	s.entries[src.Path] = &src
	return s.saveLocked()
}

// Remove forgets path and persists the map.
func (s *Sources) Remove(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, filepath.Clean(path))
	return s.saveLocked()
}

// Under returns the recorded paths equal to or inside dir, sorted.
func (s *Sources) Under(dir string) []string {
	dir = filepath.Clean(dir)
	prefix := dir + string(filepath.Separator)
	s.mu.Lock()
	defer s.mu.Unlock()
	var paths []string
	for p := range s.entries {
		if p == dir || strings.HasPrefix(p, prefix) {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths
}

// Len returns the number of recorded files.
func (s *Sources) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// saveLocked writes the map through a temporary file so a crash never leaves
// a truncated file behind.
func (s *Sources) saveLocked() error {
	if s.path == "" {
		return nil
	}
	f := sourcesFile{Sources: make([]*Source, 0, len(s.entries))}
	for _, src := range s.entries {
		f.Sources = append(f.Sources, src)
	}
	sort.Slice(f.Sources, func(i, j int) bool { return f.Sources[i].Path < f.Sources[j].Path })
	data, err := yaml.Marshal(&f)
	if err != nil {
		return fmt.Errorf("marshal sources: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create sources directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write sources: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace sources: %w", err)
	}
	return nil
}
