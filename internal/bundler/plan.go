package bundler

import (
	"fmt"
	"strings"

	"github.com/fluxbase-eu/fluxpack/internal/naming"
)

// ChunkSpec declares one chunk of a build plan.
type ChunkSpec struct {
	Name    string
	Entries []string
	// After lists chunks that must be built first. Their entries are
	// externals of this chunk.
	After []string
	// Polyfill chunks wrap the fixed polyfill module instead of entries.
	Polyfill bool
}

// Plan is a directed set of chunk specs.
type Plan struct {
	chunks []*ChunkSpec
	index  map[string]*ChunkSpec
}

// NewPlan partitions entries into the polyfill, deps, shared and per-entry
// chunks. An entry chunk is named by its URL without extension, or by its full
// URL when that name is taken. Entries whose bundle file would collide with a
// fixed chunk under both names are rejected.
func NewPlan(entries []Entry) (*Plan, error) {
	var remoteShared, localShared, app []string
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if _, dup := seen[e.URL]; dup {
			continue
		}
		seen[e.URL] = struct{}{}
		switch {
		case e.Shared && naming.IsRemote(e.URL):
			remoteShared = append(remoteShared, e.URL)
		case e.Shared:
			localShared = append(localShared, e.URL)
		default:
			app = append(app, e.URL)
		}
	}

	p := &Plan{index: make(map[string]*ChunkSpec)}
	files := make(map[string]struct{})
	add := func(spec *ChunkSpec) {
		p.chunks = append(p.chunks, spec)
		p.index[spec.Name] = spec
		files[chunkStem(spec.Name)] = struct{}{}
	}
	// the fixed chunks always own their file names
	for _, name := range []string{ChunkPolyfill, ChunkDeps, ChunkShared, ChunkMain} {
		files[name] = struct{}{}
	}

	add(&ChunkSpec{Name: ChunkPolyfill, Polyfill: true})
	add(&ChunkSpec{Name: ChunkDeps, Entries: remoteShared, After: []string{ChunkPolyfill}})

	after := []string{ChunkDeps}
	if len(localShared) > 0 {
		add(&ChunkSpec{Name: ChunkShared, Entries: localShared, After: []string{ChunkDeps}})
		after = append(after, ChunkShared)
	}
	for _, u := range app {
		name := naming.TrimModuleExt(u)
		if _, taken := files[chunkStem(name)]; taken {
			name = u
		}
		if _, taken := files[chunkStem(name)]; taken {
			return nil, fmt.Errorf("%w: entry %s collides with chunk %q", ErrUnsolvablePlan, u, chunkStem(name))
		}
		add(&ChunkSpec{Name: name, Entries: []string{u}, After: after})
	}
	return p, nil
}

// chunkStem is the build-dir relative file stem of a chunk's bundle.
func chunkStem(name string) string {
	return strings.TrimPrefix(name, "/")
}

// Add appends a chunk spec.
func (p *Plan) Add(spec *ChunkSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("chunk name is required")
	}
	if _, ok := p.index[spec.Name]; ok {
		return fmt.Errorf("duplicate chunk %q", spec.Name)
	}
	if p.index == nil {
		p.index = make(map[string]*ChunkSpec)
	}
	p.chunks = append(p.chunks, spec)
	p.index[spec.Name] = spec
	return nil
}

// Chunks returns the specs in insertion order.
func (p *Plan) Chunks() []*ChunkSpec {
	return p.chunks
}

// Chunk returns the spec named name.
func (p *Plan) Chunk(name string) (*ChunkSpec, bool) {
	c, ok := p.index[name]
	return c, ok
}

// Layers orders the chunks topologically. Chunks of one layer only depend on
// chunks of earlier layers and may be built concurrently.
func (p *Plan) Layers() ([][]*ChunkSpec, error) {
	inDegree := make(map[string]int, len(p.chunks))
	dependents := make(map[string][]string, len(p.chunks))
	for _, c := range p.chunks {
		inDegree[c.Name] += 0
		for _, dep := range c.After {
			if _, ok := p.index[dep]; !ok {
				return nil, fmt.Errorf("%w: chunk %q depends on unknown chunk %q", ErrUnsolvablePlan, c.Name, dep)
			}
			inDegree[c.Name]++
			dependents[dep] = append(dependents[dep], c.Name)
		}
	}

	var layers [][]*ChunkSpec
	done := 0
	var ready []*ChunkSpec
	for _, c := range p.chunks {
		if inDegree[c.Name] == 0 {
			ready = append(ready, c)
		}
	}
	for len(ready) > 0 {
		layers = append(layers, ready)
		done += len(ready)
		released := make(map[string]struct{})
		for _, c := range ready {
			for _, d := range dependents[c.Name] {
				inDegree[d]--
				if inDegree[d] == 0 {
					released[d] = struct{}{}
				}
			}
		}
		ready = nil
		for _, c := range p.chunks {
			if _, ok := released[c.Name]; ok {
				ready = append(ready, c)
			}
		}
	}

	if done != len(p.chunks) {
		var stuck []string
		for _, c := range p.chunks {
			if inDegree[c.Name] > 0 {
				stuck = append(stuck, c.Name)
			}
		}
		return nil, fmt.Errorf("%w: cycle between chunks %s", ErrUnsolvablePlan, strings.Join(stuck, ", "))
	}
	return layers, nil
}

// Externals returns the entries of every chunk name transitively depends on.
func (p *Plan) Externals(name string) ExternalSet {
	var urls []string
	visited := make(map[string]struct{})
	var walk func(string)
	walk = func(n string) {
		c, ok := p.index[n]
		if !ok {
			return
		}
		for _, dep := range c.After {
			if _, seen := visited[dep]; seen {
				continue
			}
			visited[dep] = struct{}{}
			if d, ok := p.index[dep]; ok {
				urls = append(urls, d.Entries...)
			}
			walk(dep)
		}
	}
	walk(name)
	return NewExternalSet(urls...)
}
