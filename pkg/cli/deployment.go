package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/deployment"
	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/executor"
	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/platforms"
	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/wizard"
)

// DeployOptions selects what to ship and from where.
type DeployOptions struct {
	Category    platforms.Category `json:"category"`
	ArtifactDir string             `json:"artifactDir"`
}

// Deploy executes the configured deployment of one category, reporting
// progress through logf.
func Deploy(ctx context.Context, d *executor.Dispatcher, store *deployment.Store, opts DeployOptions, logf func(string, ...interface{})) error {
	cfg, err := store.Configuration(opts.Category)
	if err != nil {
		return err
	}
	desc, err := store.Descriptor(opts.Category)
	if err != nil {
		return err
	}
	return DeployConfiguration(ctx, d, cfg, desc, opts.ArtifactDir, logf)
}

// DeployConfiguration ships a configuration copied out of a store, so the
// store can keep serving other callers while the upload runs.
func DeployConfiguration(ctx context.Context, d *executor.Dispatcher, cfg deployment.Configuration, desc platforms.Descriptor, artifactDir string, logf func(string, ...interface{})) error {
	logf("🚀 Deploying %s to %s\n", cfg.Category, desc.Name)
	if b := cfg.BuildSettings; b.BuildCommand != "" {
		logf("   Build command: %s\n", b.BuildCommand)
	}
	if cfg.BuildSettings.CustomDomain != "" {
		logf("   Domain: %s\n", cfg.BuildSettings.CustomDomain)
	}
	logf("\n")

	err := d.Deploy(ctx, executor.Request{
		Config:      cfg,
		Descriptor:  desc,
		ArtifactDir: artifactDir,
		Logf:        logf,
	})
	if err != nil {
		var de *executor.DeploymentError
		if errors.As(err, &de) && de.Kind == executor.KindTransferFailure {
			logf("⚠️  %d file(s) reached the server before the failure\n", de.Uploaded)
		}
		return fmt.Errorf("deployment failed: %w", err)
	}

	logf("\n")
	logf("🎉 Deployment Complete!\n")
	if cfg.BuildSettings.CustomDomain != "" {
		logf("🔗 URL: https://%s\n", cfg.BuildSettings.CustomDomain)
	}
	return nil
}

// TerminalDeploy adapts Deploy to the finish step of the terminal wizard.
func TerminalDeploy(d *executor.Dispatcher, ui UI, artifactDir string) DeployFunc {
	return func(ctx context.Context, s *wizard.Session, c platforms.Category) error {
		return Deploy(ctx, d, s.Deployment(), DeployOptions{Category: c, ArtifactDir: artifactDir}, ui.Printf)
	}
}
