// Package report persists the result of a build and summarizes bundle sizes
// for the fluxpack CLI.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/fluxbase-eu/fluxpack/internal/bundler"
)

// ManifestFile is written to the build directory after every build.
const ManifestFile = "manifest.json"

// ErrNoManifest is returned when the build directory has not been built yet.
var ErrNoManifest = errors.New("no build manifest found")

// BundleInfo describes one registered bundle on disk
type BundleInfo struct {
	Name   string `json:"name"`
	File   string `json:"file"`
	Bytes  int64  `json:"bytes"`
	Cached bool   `json:"cached"`
}

// Summary is the size breakdown of a build
type Summary struct {
	SessionID  string       `json:"session_id"`
	Bundles    []BundleInfo `json:"bundles"`
	TotalBytes int64        `json:"total_bytes"`
	Missing    []string     `json:"missing,omitempty"`
}

// WriteManifest stores res under buildDir.
func WriteManifest(buildDir string, res *bundler.Result) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.MkdirAll(buildDir, 0755); err != nil {
		return fmt.Errorf("failed to create build directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(buildDir, ManifestFile), data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// ReadManifest loads the result of the last build in buildDir.
func ReadManifest(buildDir string) (*bundler.Result, error) {
	data, err := os.ReadFile(filepath.Join(buildDir, ManifestFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w in %s", ErrNoManifest, buildDir)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var res bundler.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return &res, nil
}

// Summarize stats every bundle of res in buildDir, largest first. Bundles
// missing from disk are listed in Missing instead of failing.
func Summarize(buildDir string, res *bundler.Result) (*Summary, error) {
	cached := make(map[string]bool, len(res.Chunks))
	for _, c := range res.Chunks {
		if c != nil {
			cached[c.Name] = c.Cached
		}
	}

	s := &Summary{SessionID: res.SessionID}
	for _, name := range res.Names() {
		file := res.Files[name]
		info, err := os.Stat(filepath.Join(buildDir, filepath.FromSlash(file)))
		if errors.Is(err, fs.ErrNotExist) {
			s.Missing = append(s.Missing, file)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", file, err)
		}
		s.Bundles = append(s.Bundles, BundleInfo{
			Name:   name,
			File:   file,
			Bytes:  info.Size(),
			Cached: cached[name],
		})
		s.TotalBytes += info.Size()
	}

	sort.SliceStable(s.Bundles, func(i, j int) bool {
		return s.Bundles[i].Bytes > s.Bundles[j].Bytes
	})
	return s, nil
}

// Rows renders the summary for a table, names truncated to maxName.
func (s *Summary) Rows(maxName int) [][]string {
	rows := make([][]string, 0, len(s.Bundles)+1)
	for _, b := range s.Bundles {
		cache := "miss"
		if b.Cached {
			cache = "hit"
		}
		rows = append(rows, []string{TruncatePath(b.Name, maxName), b.File, FormatBytes(b.Bytes), cache})
	}
	rows = append(rows, []string{"TOTAL", "", FormatBytes(s.TotalBytes), ""})
	return rows
}

// FormatBytes formats bytes in human-readable format
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
	)
	switch {
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// TruncatePath shortens a path if it's too long
func TruncatePath(path string, maxLen int) string {
	if maxLen <= 3 || len(path) <= maxLen {
		return path
	}
	return "..." + path[len(path)-maxLen+3:]
}
