package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/cli"
	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/logging"
	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/platforms"
)

var (
	deployConfig    string
	deployCategory  string
	deployArtifacts string
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Validate a deployment file and ship one category",
	Long: `Validate a deployment file and upload the build output of one category.
Only the Apache executor transfers files; the hosted platforms report that
automated deploys are not available and point at their documentation.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := platforms.ParseCategory(deployCategory)
		if err != nil {
			return err
		}
		f, err := loadDeployFile(deployConfig)
		if err != nil {
			return err
		}
		if f.target(c) == nil {
			return fmt.Errorf("%s does not configure %s", deployConfig, c)
		}
		store, err := buildStore(cmd.Context(), f, registry, newOrchestrator(), logging.Component(logger, "deployment"))
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if !report(out, store, []platforms.Category{c}) {
			return errInvalidConfig
		}
		fmt.Fprintln(out)

		logf := func(format string, a ...interface{}) { fmt.Fprintf(out, format, a...) }
		return cli.Deploy(cmd.Context(), newDispatcher(), store, cli.DeployOptions{Category: c, ArtifactDir: deployArtifacts}, logf)
	},
}

func init() {
	deployCmd.Flags().StringVarP(&deployConfig, "config", "c", "deploy.yaml", "Deployment file")
	deployCmd.Flags().StringVar(&deployCategory, "category", "", "Category to deploy (frontend or backend)")
	deployCmd.Flags().StringVar(&deployArtifacts, "artifacts", "", "Build output directory (defaults to the configured output dir)")
	deployCmd.MarkFlagRequired("category")
	rootCmd.AddCommand(deployCmd)
}
