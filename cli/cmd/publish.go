package cmd

import (
	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/fluxpack/cli/output"
	"github.com/fluxbase-eu/fluxpack/internal/bundler"
)

var publishPrune bool

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Build and publish the bundles",
	Long: `Build the application, then copy every bundle to the publish target
(a local directory or an S3 bucket) under _aleph/. Bundles already present at
the target are skipped since their names are content hashed.

Examples:
  fluxpack publish
  fluxpack publish --prune
  FLUXPACK_PUBLISH_PROVIDER=s3 FLUXPACK_PUBLISH_S3_BUCKET=assets fluxpack publish`,
	RunE: runPublish,
}

func init() {
	addBuildFlags(publishCmd)
	publishCmd.Flags().BoolVar(&publishPrune, "prune", false, "delete published bundles that are no longer part of the build")
}

func runPublish(cmd *cobra.Command, args []string) error {
	cfg, err := loadBuildConfig()
	if err != nil {
		return err
	}
	if publishPrune {
		cfg.Publish.Prune = true
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

	out, err := p.Publish(ctx, res)
	if err != nil {
		return err
	}

	if err := formatter.PrintResult(output.TableData{
		Headers: []string{"ACTION", "KEY"},
		Rows:    publishRows(out),
	}, out); err != nil {
		return err
	}
	formatter.PrintSuccess("Published %d bundles (%d unchanged, %d pruned)",
		len(out.Uploaded), len(out.Skipped), len(out.Pruned))
	return nil
}

func publishRows(out *bundler.PublishResult) [][]string {
	rows := make([][]string, 0, len(out.Uploaded)+len(out.Skipped)+len(out.Pruned))
	for _, k := range out.Uploaded {
		rows = append(rows, []string{"uploaded", k})
	}
	for _, k := range out.Skipped {
		rows = append(rows, []string{"skipped", k})
	}
	for _, k := range out.Pruned {
		rows = append(rows, []string{"pruned", k})
	}
	return rows
}
