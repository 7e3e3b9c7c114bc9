package cmd

import (
	"github.com/spf13/cobra"

	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/logging"
	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/server"
	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/setupapi"
	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/wizard"
)

var (
	servePort      int
	serveNoBrowser bool
	serveArtifacts string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the setup web API",
	RunE: func(cmd *cobra.Command, args []string) error {
		srv, err := server.New(
			server.WithRegistry(registry),
			server.WithServiceDialer(wizard.DialSetupAPI(setupapi.WithLogger(logging.Component(logger, "setupapi")))),
			server.WithOrchestrator(newOrchestrator()),
			server.WithArtifactDir(serveArtifacts),
			server.WithLogger(logging.Component(logger, "server")),
		)
		if err != nil {
			return err
		}
		return srv.ListenAndServe(cmd.Context(), servePort, !serveNoBrowser)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "HTTP port to listen on")
	serveCmd.Flags().BoolVar(&serveNoBrowser, "no-browser", false, "Do not open the system browser")
	serveCmd.Flags().StringVar(&serveArtifacts, "artifacts", "", "Default build output for /api/deploy")
	rootCmd.AddCommand(serveCmd)
}
