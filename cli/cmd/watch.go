package cmd

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/fluxpack/internal/watch"
)

var watchDebounce time.Duration

var errOutsideAppDir = errors.New("directory is not inside the app directory")

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Rebuild whenever the application changes",
	Long: `Build the application, then watch the app directory and rebuild after
every change. Chunks whose inputs did not change are served from the build
cache, so a rebuild only re-bundles what an edit touched.`,
	RunE: runWatch,
}

func init() {
	addBuildFlags(watchCmd)
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 300*time.Millisecond, "quiet period after the last change before rebuilding")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadBuildConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	p, err := newPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer closePipeline(p)

	rebuild := func(ctx context.Context) {
		res, err := p.Build(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Build failed")
			return
		}
		if err := printBuild(cfg.Build.BuildDir, res); err != nil {
			log.Warn().Err(err).Msg("Failed to print build summary")
		}
	}
	rebuild(ctx)

	w, err := watch.New(watch.Config{
		AppDir:   cfg.Build.AppDir,
		Ignore:   watchIgnores(cfg.Build.AppDir, cfg.Build.BuildDir, cfg.Build.OutputDir, cfg.Publish.LocalPath),
		Debounce: watchDebounce,
		OnChange: func(ctx context.Context, changed []string) error {
			log.Info().Strs("changed", changed).Msg("Change detected, rebuilding")
			rebuild(ctx)
			return nil
		},
	})
	if err != nil {
		return err
	}

	return w.Run(ctx)
}

// watchIgnores returns a pattern for each generated directory that lives
// inside the app directory.
func watchIgnores(appDir string, generated ...string) []string {
	var patterns []string
	for _, dir := range generated {
		if dir == "" {
			continue
		}
		rel, err := relativeTo(appDir, dir)
		if err != nil {
			continue
		}
		patterns = append(patterns, rel+"/**")
	}
	return patterns
}

func relativeTo(base, dir string) (string, error) {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", err
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(absBase, absDir)
	if err != nil {
		return "", err
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errOutsideAppDir
	}
	return filepath.ToSlash(rel), nil
}
