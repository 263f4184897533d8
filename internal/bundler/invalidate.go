package bundler

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fluxbase-eu/fluxpack/internal/naming"
	"github.com/rs/zerolog/log"
)

// Invalidate removes hashed bundle files in the directory of target that share
// target's logical name but carry a different hash. It returns how many files
// were removed.
func Invalidate(target string) (int, error) {
	dir := filepath.Dir(target)
	current := filepath.Base(target)
	logical := naming.LogicalName(current)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == current || !naming.IsHashedJS(name) {
			continue
		}
		if naming.LogicalName(name) != logical {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("failed to remove stale bundle %s: %w", name, err)
		}
		log.Debug().Str("file", name).Msg("Removed stale bundle")
		removed++
	}
	return removed, nil
}
