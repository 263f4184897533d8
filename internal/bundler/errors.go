package bundler

import (
	"errors"
	"fmt"
)

var (
	// ErrModuleNotFound is returned by a ModuleGraph that has no source for a URL
	ErrModuleNotFound = errors.New("module not found")

	// ErrUnsupportedModule is returned when a required module cannot be compiled
	ErrUnsupportedModule = errors.New("unsupported module")

	// ErrExportResolution is returned when a star export target cannot be parsed for names
	ErrExportResolution = errors.New("failed to resolve star exports")

	// ErrBundlerFailed is returned when the external bundler fails
	ErrBundlerFailed = errors.New("bundler failed")

	// ErrUnsolvablePlan is returned when chunk dependencies form a cycle or reference unknown chunks
	ErrUnsolvablePlan = errors.New("unsolvable build plan")
)

// UnsupportedModuleError names the module the graph could not produce.
type UnsupportedModuleError struct {
	URL string
	Err error
}

func (e *UnsupportedModuleError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unsupported module %q: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("unsupported module %q", e.URL)
}

func (e *UnsupportedModuleError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrUnsupportedModule, e.Err}
	}
	return []error{ErrUnsupportedModule}
}

// ChunkError reports the chunk whose build aborted the session.
type ChunkError struct {
	Chunk string
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("failed to build chunk %q: %v", e.Chunk, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}
