package bundler

import (
	"encoding/json"
	"sort"
	"sync"
)

// Chunk names with a fixed meaning.
const (
	ChunkPolyfill = "polyfill"
	ChunkDeps     = "deps"
	ChunkShared   = "shared"
	ChunkMain     = "main"
)

// Registry maps chunk and module names to their current bundle filename for
// one bundling session. Filenames are build-dir relative with a leading slash.
type Registry struct {
	mu    sync.RWMutex
	files map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{files: make(map[string]string)}
}

// Set records the bundle filename of name.
func (r *Registry) Set(name, filename string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[name] = filename
}

// Get returns the bundle filename of name.
func (r *Registry) Get(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.files[name]
	return f, ok
}

// Len returns the number of registered bundles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.files)
}

// Snapshot returns a copy of the registry contents.
func (r *Registry) Snapshot() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.files))
	for k, v := range r.files {
		out[k] = v
	}
	return out
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.files))
	for k := range r.files {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Manifest returns the JSON object embedded into the loader: every entry
// except the polyfill, deps and shared chunks, which are loaded by the page
// before the loader runs.
func (r *Registry) Manifest() ([]byte, error) {
	files := r.Snapshot()
	delete(files, ChunkPolyfill)
	delete(files, ChunkDeps)
	delete(files, ChunkShared)
	delete(files, ChunkMain)
	// encoding/json sorts map keys, so the manifest is stable
	return json.Marshal(files)
}
