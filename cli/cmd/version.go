package cmd

import (
	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/fluxpack/cli/output"
	"github.com/fluxbase-eu/fluxpack/internal/engine"
)

type versionInfo struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	BuildDate string `json:"build_date" yaml:"build_date"`
	Esbuild   string `json:"esbuild" yaml:"esbuild"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show CLI version information",
	Long:  `Display the version, commit hash, build date and esbuild version of fluxpack.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		info := versionInfo{
			Version:   Version,
			Commit:    Commit,
			BuildDate: BuildDate,
			Esbuild:   engine.ToolchainVersion(),
		}
		return formatter.PrintResult(output.TableData{
			Headers: []string{"COMPONENT", "VERSION"},
			Rows: [][]string{
				{"fluxpack", info.Version},
				{"commit", info.Commit},
				{"build date", info.BuildDate},
				{"esbuild", info.Esbuild},
			},
		}, info)
	},
}
