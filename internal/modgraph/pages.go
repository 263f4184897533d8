package modgraph

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

var pageExtensions = map[string]bool{
	".tsx": true,
	".jsx": true,
	".ts":  true,
	".js":  true,
	".mjs": true,
}

// DiscoverPages lists the page modules under appDir/pagesDir as module URLs.
// Files and directories starting with "_" or "." and test files are skipped.
// A missing pages directory yields no pages.
func DiscoverPages(appDir, pagesDir string) ([]string, error) {
	if pagesDir == "" {
		return nil, nil
	}
	root := filepath.Join(appDir, filepath.FromSlash(pagesDir))
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil, nil
	}

	var pages []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if p != root && (strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".")) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !pageExtensions[filepath.Ext(name)] || strings.Contains(name, ".test.") {
			return nil
		}
		rel, err := filepath.Rel(appDir, p)
		if err != nil {
			return err
		}
		pages = append(pages, path.Join("/", filepath.ToSlash(rel)))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover pages: %w", err)
	}
	sort.Strings(pages)
	return pages, nil
}
