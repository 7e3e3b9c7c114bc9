package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/platforms"
)

var platformsCmd = &cobra.Command{
	Use:       "platforms [frontend|backend]",
	Short:     "List deployment platforms",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{string(platforms.Frontend), string(platforms.Backend)},
	RunE: func(cmd *cobra.Command, args []string) error {
		cats := platforms.Categories
		if len(args) == 1 {
			c, err := platforms.ParseCategory(args[0])
			if err != nil {
				return err
			}
			cats = []platforms.Category{c}
		}
		printPlatforms(cmd.OutOrStdout(), registry, cats)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(platformsCmd)
}

func printPlatforms(w io.Writer, reg *platforms.Registry, cats []platforms.Category) {
	fmt.Fprintf(w, "Platform registry %s\n", reg.Version())
	for _, c := range cats {
		fmt.Fprintf(w, "\n%s platforms:\n", strings.ToUpper(string(c[:1]))+string(c[1:]))
		for _, d := range reg.List(c) {
			fmt.Fprintf(w, "  - %-13s %s (%s auth)\n", d.ID, d.Name, d.Auth.Type)
			if d.Description != "" {
				fmt.Fprintf(w, "      %s\n", d.Description)
			}
			req := d.Requirements
			if req.MinimumRuntimeVersion != "" {
				fmt.Fprintf(w, "      runtime >= %s\n", req.MinimumRuntimeVersion)
			}
			if len(req.SupportedFrameworks) > 0 {
				fmt.Fprintf(w, "      frameworks: %s\n", strings.Join(req.SupportedFrameworks, ", "))
			}
			if len(req.RequiredEnvironmentVars) > 0 {
				fmt.Fprintf(w, "      requires env: %s\n", strings.Join(req.RequiredEnvironmentVars, ", "))
			}
			if d.Pricing != nil && len(d.Pricing.Free) > 0 {
				fmt.Fprintf(w, "      free tier: %s\n", strings.Join(d.Pricing.Free, ", "))
			}
			if d.Docs != "" {
				fmt.Fprintf(w, "      docs: %s\n", d.Docs)
			}
		}
	}
}
