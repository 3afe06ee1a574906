package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/eventsink/common/messaging/nats"
	"github.com/telhawk-systems/eventsink/internal/config"
	"github.com/telhawk-systems/eventsink/internal/dlq"
)

var dlqLimit int

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect the dead-letter queue",
	Long:  `list and purge work on the file backend. stats also reports the JetStream stream.`,
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-lettered messages, oldest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		q, err := openFileDLQ()
		if err != nil {
			return err
		}
		failed, err := q.List(cmd.Context(), dlqLimit)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(failed)
	},
}

var dlqStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show dead-letter queue statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		stats, err := dlqStats(cmd.Context())
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	},
}

var dlqPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every dead-lettered message",
	RunE: func(cmd *cobra.Command, _ []string) error {
		q, err := openFileDLQ()
		if err != nil {
			return err
		}
		n, err := q.Purge(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Purged %d messages\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(dlqCmd)
	dlqCmd.AddCommand(dlqListCmd, dlqStatsCmd, dlqPurgeCmd)

	dlqListCmd.Flags().IntVar(&dlqLimit, "limit", 100, "maximum number of messages to list")
}

func openFileDLQ() (*dlq.Queue, error) {
	if cfg.DLQ.Backend != config.DLQFile {
		return nil, fmt.Errorf("dlq commands require dlq.backend=%s, got %q", config.DLQFile, cfg.DLQ.Backend)
	}
	return dlq.NewQueue(cfg.DLQ.BasePath, logger)
}

func dlqStats(ctx context.Context) (map[string]interface{}, error) {
	if cfg.DLQ.Backend != config.DLQJetStream {
		q, err := openFileDLQ()
		if err != nil {
			return nil, err
		}
		return q.Stats(), nil
	}

	ncfg := nats.DefaultConfig()
	ncfg.Name = "eventsink-dlq"
	ncfg.URL = cfg.DLQ.NATSURL
	if ncfg.URL == "" {
		ncfg.URL = cfg.Source.NATSURL
	}
	ncfg.MaxReconnects = 0
	ncfg.Logger = logger.Logger

	js, err := nats.NewJetStreamClient(ncfg)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	defer js.Close()

	q, err := dlq.NewJetStreamQueue(ctx, js, logger)
	if err != nil {
		return nil, err
	}
	return q.Stats(ctx), nil
}
