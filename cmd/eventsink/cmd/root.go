package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/eventsink/common/logging"
	"github.com/telhawk-systems/eventsink/internal/config"
)

// Set at build time with -ldflags.
var (
	version = "dev"
	commit  = "none"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "eventsink",
	Short: "Stream-to-document-store ingestion service",
	Long: `eventsink consumes device telemetry from a NATS JetStream stream or HTTP,
assigns each message a stable id and upserts it into a document store.

Use "serve" to run the service and "send" to publish sample traffic.`,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml or /etc/eventsink/config.yaml)")
}

func initConfig(cmd *cobra.Command, _ []string) error {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: could not load config: %v\n", err)
		return err
	}

	logger = logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format).
		With(logging.Service("eventsink"))
	logging.SetDefault(logger)
	return nil
}
