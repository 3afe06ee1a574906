package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/eventsink/common/logging"
	"github.com/telhawk-systems/eventsink/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the stream consumer and HTTP functions",
	Long: `Starts the JetStream consumer and the HTTP function endpoints as configured,
and runs until SIGINT or SIGTERM. In-flight messages finish before exit.`,
	RunE: runServe,
}

var (
	serveNoSource bool
	serveNoHTTP   bool
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveNoSource, "no-source", false, "disable the JetStream consumer")
	serveCmd.Flags().BoolVar(&serveNoHTTP, "no-http", false, "disable the HTTP server")
}

func runServe(cmd *cobra.Command, _ []string) error {
	if serveNoSource {
		cfg.Source.Enabled = false
	}
	if serveNoHTTP {
		cfg.Server.Enabled = false
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Serve(ctx, cfg, logger); err != nil {
		logger.Error("eventsink stopped with error", logging.Error(err))
		return err
	}
	logger.Info("eventsink stopped")
	return nil
}

