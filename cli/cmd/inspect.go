package cmd

import (
	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/fluxpack/cli/report"
)

var inspectBuildDir string

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show the bundles of the last build",
	Long: `Print the manifest of the last build: every registered module or chunk
name, its hashed bundle file and its size on disk.`,
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().StringVar(&inspectBuildDir, "build-dir", "", "override build.build_dir")
}

func runInspect(cmd *cobra.Command, args []string) error {
	buildDir := inspectBuildDir
	if buildDir == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		buildDir = cfg.Build.BuildDir
	}

	res, err := report.ReadManifest(buildDir)
	if err != nil {
		return err
	}
	return printBuild(buildDir, res)
}
