package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/eventsink/common/messaging/nats"
	"github.com/telhawk-systems/eventsink/internal/sampler"
)

var (
	sendNATSURL    string
	sendCount      int
	sendPartitions int
	sendSeed       int64
	sendMalformed  bool
	sendCustom     string
	sendFile       string
	sendPause      time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Publish sample device messages to the events stream",
	Long: `Generate device readings and publish them to eventsink.events.<partition>.

Examples:
  # 10 generated readings spread over 4 partitions
  eventsink send --count 10 --partitions 4

  # Exercise the malformed path
  eventsink send --malformed

  # A single hand-written message
  eventsink send --custom '{"id":"dev-1","temperature":20}'

  # Samples from a data file
  eventsink send --file sample_data.json`,
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().StringVar(&sendNATSURL, "nats-url", "", "NATS server URL (default: source.nats_url)")
	sendCmd.Flags().IntVarP(&sendCount, "count", "n", 5, "number of generated messages")
	sendCmd.Flags().IntVar(&sendPartitions, "partitions", 2, "number of partitions to spread messages over")
	sendCmd.Flags().Int64Var(&sendSeed, "seed", 0, "generator seed (0 for time based)")
	sendCmd.Flags().BoolVar(&sendMalformed, "malformed", false, "send the malformed message corpus")
	sendCmd.Flags().StringVar(&sendCustom, "custom", "", "send a single custom JSON message")
	sendCmd.Flags().StringVarP(&sendFile, "file", "f", "", "send samples and malformed entries from a JSON or YAML file")
	sendCmd.Flags().DurationVar(&sendPause, "pause", 100*time.Millisecond, "pause between messages")
}

// collectMessages picks the messages to send from the flags, in priority
// order custom, file, malformed, generated.
func collectMessages() ([]sampler.Message, error) {
	switch {
	case sendCustom != "":
		msg, err := sampler.Custom(sendCustom)
		if err != nil {
			return nil, err
		}
		return []sampler.Message{msg}, nil

	case sendFile != "":
		f, err := sampler.LoadFile(sendFile)
		if err != nil {
			return nil, err
		}
		msgs, err := f.SampleMessages()
		if err != nil {
			return nil, err
		}
		if sendMalformed {
			bad, err := f.MalformedMessages()
			if err != nil {
				return nil, err
			}
			msgs = append(msgs, bad...)
		}
		return msgs, nil

	case sendMalformed:
		return sampler.MalformedMessages(), nil

	default:
		if sendCount <= 0 {
			return nil, fmt.Errorf("--count must be positive")
		}
		if sendPartitions <= 0 {
			return nil, fmt.Errorf("--partitions must be positive")
		}
		seed := sendSeed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		return sampler.NewGenerator(seed, sendPartitions).Messages(sendCount)
	}
}

func runSend(cmd *cobra.Command, _ []string) error {
	msgs, err := collectMessages()
	if err != nil {
		return err
	}

	ncfg := nats.DefaultConfig()
	ncfg.Name = "eventsink-send"
	ncfg.URL = cfg.Source.NATSURL
	if sendNATSURL != "" {
		ncfg.URL = sendNATSURL
	}
	ncfg.Logger = logger.Logger

	js, err := nats.NewJetStreamClient(ncfg)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer js.Close()

	stream := nats.EventsStream
	stream.Name = cfg.Source.Stream
	stream.Subjects = cfg.Source.Subjects
	if _, err := js.CreateOrUpdateStream(cmd.Context(), stream); err != nil {
		return fmt.Errorf("ensure stream: %w", err)
	}

	sent, err := sampler.NewSender(js).SendAll(cmd.Context(), msgs, sendPause)
	fmt.Fprintf(cmd.OutOrStdout(), "Sent %d/%d messages to %s\n", sent, len(msgs), ncfg.URL)
	return err
}
