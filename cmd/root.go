package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/auth"
	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/cli"
	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/executor"
	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/logging"
	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/platforms"
	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/setupapi"
	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/wizard"
)

var (
	// Global flags
	logLevel     string
	logFormat    string
	logOutput    string
	envFile      string
	registryPath string
	oauthTimeout time.Duration

	// Wizard flags
	artifactDir string
	exportPath  string

	logger    = zerolog.Nop()
	logCloser io.Closer
	registry  *platforms.Registry
)

var rootCmd = &cobra.Command{
	Use:   "storesetup",
	Short: "Setup wizard for the plumbing supplies store",
	Long: `Connects the store backend, creates the admin account and configures
where the frontend and backend are deployed (GitHub Pages, Vercel, Netlify,
Render, Railway or a self-hosted Apache server).

Run without a subcommand to start the interactive wizard.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWizard(cmd.Context())
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	flags.StringVar(&logFormat, "log-format", "console", "Log format (console, json)")
	flags.StringVar(&logOutput, "log-output", "stderr", "Log destination (stderr, stdout or a file path)")
	flags.StringVar(&envFile, "env-file", ".env", "Environment file loaded at startup")
	flags.StringVar(&registryPath, "registry", "", "Platform registry YAML (defaults to the built-in table)")
	flags.DurationVar(&oauthTimeout, "oauth-timeout", auth.DefaultOAuthTimeout, "How long to wait for an OAuth authorization")

	rootCmd.Flags().StringVar(&artifactDir, "artifacts", "", "Build output deployed from the finish step")
	rootCmd.Flags().StringVar(&exportPath, "export-env", "storesetup.env", "Where the finish step writes the collected settings")
}

// setup loads the environment file, the logger and the platform registry
// before any command runs.
func setup(cmd *cobra.Command, args []string) error {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", envFile, err)
	}

	l, closer, err := logging.New(logging.Config{Level: logLevel, Format: logFormat, Output: logOutput})
	if err != nil {
		return err
	}
	logger, logCloser = l, closer

	if registryPath == "" {
		registryPath = os.Getenv("STORESETUP_REGISTRY")
	}
	if registryPath == "" {
		registry = platforms.Default()
		return nil
	}
	registry, err = platforms.LoadFile(registryPath)
	return err
}

// clientIDs reads OAuth client ids from STORESETUP_<PROVIDER>_CLIENT_ID.
func clientIDs(reg *platforms.Registry) map[string]string {
	return providerEnv(reg, "CLIENT_ID")
}

// clientSecrets reads STORESETUP_<PROVIDER>_CLIENT_SECRET. A provider with a
// secret and a tokenUrl can redirect its authorization code straight to the
// loopback listener.
func clientSecrets(reg *platforms.Registry) map[string]string {
	return providerEnv(reg, "CLIENT_SECRET")
}

func providerEnv(reg *platforms.Registry, suffix string) map[string]string {
	vals := map[string]string{}
	for _, c := range platforms.Categories {
		for _, d := range reg.List(c) {
			if d.Auth.Type != platforms.AuthOAuth {
				continue
			}
			key := "STORESETUP_" + strings.ToUpper(strings.ReplaceAll(d.Auth.Provider, "-", "_")) + "_" + suffix
			if v := os.Getenv(key); v != "" {
				vals[d.Auth.Provider] = v
			}
		}
	}
	return vals
}

func newOrchestrator(opts ...auth.Option) *auth.Orchestrator {
	base := []auth.Option{
		auth.WithClientIDs(clientIDs(registry)),
		auth.WithClientSecrets(clientSecrets(registry)),
		auth.WithTimeout(oauthTimeout),
		auth.WithLogger(logging.Component(logger, "auth")),
	}
	return auth.NewOrchestrator(append(base, opts...)...)
}

func newDispatcher() *executor.Dispatcher {
	return executor.Default(executor.WithLogger(logging.Component(logger, "executor")))
}

func runWizard(ctx context.Context) error {
	ui := cli.NewTerminalUI()
	session := wizard.NewSession(
		wizard.WithRegistry(registry),
		wizard.WithLogger(logging.Component(logger, "wizard")),
		wizard.WithServiceDialer(wizard.DialSetupAPI(setupapi.WithLogger(logging.Component(logger, "setupapi")))),
	)
	orch := newOrchestrator(
		auth.WithPrompter(cli.NewPrompter(ui)),
		auth.WithNotify(func(msg string) { ui.Printf("🔑 %s\n", msg) }),
	)

	err := cli.RunWizard(ctx, ui, session, orch,
		cli.WithDeploy(cli.TerminalDeploy(newDispatcher(), ui, artifactDir)),
		cli.WithEnvExport(exportPath),
	)
	if errors.Is(err, cli.ErrAborted) {
		fmt.Println("Setup cancelled. Run storesetup again to resume from the start.")
		return nil
	}
	return err
}

func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	defer func() {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	}()
	return rootCmd.ExecuteContext(ctx)
}
