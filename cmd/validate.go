package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/deployment"
	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/logging"
	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/platforms"
)

var configFile string

var errInvalidConfig = errors.New("deployment configuration is invalid")

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a deployment file against the platform requirements",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := loadDeployFile(configFile)
		if err != nil {
			return err
		}
		store, err := buildStore(cmd.Context(), f, registry, newOrchestrator(), logging.Component(logger, "deployment"))
		if err != nil {
			return err
		}
		if !report(cmd.OutOrStdout(), store, f.categories()) {
			return errInvalidConfig
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().StringVarP(&configFile, "config", "c", "deploy.yaml", "Deployment file")
	rootCmd.AddCommand(validateCmd)
}

// report prints the validation result of each category and whether all of
// them are valid.
func report(w io.Writer, store *deployment.Store, cats []platforms.Category) bool {
	ok := true
	for _, c := range cats {
		cfg, err := store.Configuration(c)
		if err != nil {
			fmt.Fprintf(w, "❌ %s: %v\n", c, err)
			ok = false
			continue
		}
		res := cfg.Validation()
		if res.IsValid {
			fmt.Fprintf(w, "✅ %s (%s): valid\n", c, cfg.PlatformID)
		} else {
			fmt.Fprintf(w, "❌ %s (%s): invalid\n", c, cfg.PlatformID)
			ok = false
		}
		for _, e := range res.Errors {
			fmt.Fprintf(w, "   ✗ %s\n", e)
		}
		for _, warn := range res.Warnings {
			fmt.Fprintf(w, "   ⚠️  %s\n", warn)
		}
	}
	return ok
}
