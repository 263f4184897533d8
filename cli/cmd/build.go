package cmd

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/fluxpack/cli/output"
	"github.com/fluxbase-eu/fluxpack/cli/report"
	"github.com/fluxbase-eu/fluxpack/internal/bundler"
	"github.com/fluxbase-eu/fluxpack/internal/config"
)

var (
	buildTarget   string
	buildNoMinify bool
	buildAppDir   string
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Bundle the application",
	Long: `Load the module graph from the configured entries, the bootstrap module
and every page, then write content-hashed bundles and the runtime loader to
the build directory.

Examples:
  fluxpack build
  fluxpack build --target es2020 --no-minify
  fluxpack build -o json`,
	RunE: runBuild,
}

func init() {
	addBuildFlags(buildCmd)
}

// addBuildFlags registers the flags shared by every command that builds.
func addBuildFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&buildTarget, "target", "", "override build.target (es2015 ... es2022, esnext)")
	cmd.Flags().BoolVar(&buildNoMinify, "no-minify", false, "disable minification")
	cmd.Flags().StringVar(&buildAppDir, "app-dir", "", "override build.app_dir")
}

// loadBuildConfig loads the configuration and applies the build flags.
func loadBuildConfig() (*config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if buildTarget != "" {
		cfg.Build.Target = buildTarget
	}
	if buildNoMinify {
		cfg.Build.Minify = false
	}
	if buildAppDir != "" {
		cfg.Build.AppDir = buildAppDir
	}
	if err := cfg.Build.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runBuild(cmd *cobra.Command, args []string) error {
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

	res, err := p.Build(ctx)
	if err != nil {
		return err
	}
	return printBuild(cfg.Build.BuildDir, res)
}

func closePipeline(p *pipeline) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.Close(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to shut down cleanly")
	}
}

// printBuild prints the bundles of res with their sizes on disk.
func printBuild(buildDir string, res *bundler.Result) error {
	summary, err := report.Summarize(buildDir, res)
	if err != nil {
		return err
	}
	for _, file := range summary.Missing {
		formatter.PrintWarning("bundle %s is missing from %s", file, buildDir)
	}

	if err := formatter.PrintResult(output.TableData{
		Headers: []string{"NAME", "FILE", "SIZE", "CACHE"},
		Rows:    summary.Rows(48),
	}, summary); err != nil {
		return err
	}
	formatter.PrintSuccess("Built %d bundles in %s (session %s)",
		len(res.Files), res.Duration.Round(time.Millisecond), res.SessionID)
	return nil
}
