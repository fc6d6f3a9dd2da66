package jsonldb

import (
	"fmt"
	"path/filepath"
	"slices"
	"sync"
)

// Registry hands out one *Table per file path.
//
// Create one per process (or per test) and pass it to whoever opens tables.
type Registry struct {
	opts []Option

	mu     sync.Mutex
	tables map[string]*Table
}

// NewRegistry returns an empty registry. opts apply to every table it opens,
// before the options given to Open.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{
		opts:   opts,
		tables: make(map[string]*Table),
	}
}

// Open returns the table for path, opening it on first use.
//
// Only the first call for a path uses primaryKey, seed and opts; later calls
// return the cached table whatever they pass.
func (r *Registry) Open(path, primaryKey string, seed []Record, opts ...Option) (*Table, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve table path %s: %w", path, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tables[abs]; ok {
		return t, nil
	}
	all := append(slices.Clip(r.opts), opts...)
	t, err := Open(abs, primaryKey, seed, all...)
	if err != nil {
		return nil, err
	}
	r.tables[abs] = t
	return t, nil
}

// Lookup returns the table already opened for path. Relative paths resolve
// against the working directory like in Open; a path that cannot be
// resolved is reported as not opened, since Open would have failed on it.
func (r *Registry) Lookup(path string) (*Table, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tables[abs]
	return t, ok
}

// Paths returns the paths of every opened table, sorted.
func (r *Registry) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	paths := make([]string, 0, len(r.tables))
	for p := range r.tables {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return paths
}
