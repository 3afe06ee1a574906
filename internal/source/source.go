// Package source feeds JetStream deliveries through the ingestion pipeline
// and acknowledges them according to their outcome.
package source

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	natsio "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/errgroup"

	"github.com/telhawk-systems/eventsink/common/logging"
	"github.com/telhawk-systems/eventsink/common/messaging"
	"github.com/telhawk-systems/eventsink/common/messaging/nats"
	"github.com/telhawk-systems/eventsink/internal/metrics"
	"github.com/telhawk-systems/eventsink/internal/models"
)

const fetchRetryDelay = 500 * time.Millisecond

// Processor handles one inbound message.
type Processor interface {
	Process(ctx context.Context, msg *models.InboundMessage) models.Outcome
}

// delivery is the subset of jetstream.Msg the consumer relies on.
type delivery interface {
	Data() []byte
	Subject() string
	Headers() natsio.Header
	Metadata() (*jetstream.MsgMetadata, error)
	Ack() error
	Nak() error
}

// Config describes the stream and durable consumer to read from.
type Config struct {
	Stream     string
	Subjects   []string
	Consumer   string
	Workers    int
	AckWait    time.Duration
	MaxDeliver int
}

// Consumer pulls messages from a durable JetStream consumer.
type Consumer struct {
	consumer  jetstream.Consumer
	processor Processor
	cfg       Config
	logger    *logging.Logger
}

// New ensures the stream and durable consumer exist.
func New(ctx context.Context, js *nats.JetStreamClient, cfg Config, p Processor, logger *logging.Logger) (*Consumer, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	streamCfg := nats.EventsStream
	streamCfg.Name = cfg.Stream
	streamCfg.Subjects = cfg.Subjects
	if _, err := js.CreateOrUpdateStream(ctx, streamCfg); err != nil {
		return nil, err
	}

	consumer, err := js.CreateOrUpdateConsumer(ctx, cfg.Stream, nats.ConsumerConfig{
		Name:          cfg.Consumer,
		AckWait:       cfg.AckWait,
		MaxDeliver:    cfg.MaxDeliver,
		MaxAckPending: cfg.Workers * 4,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("stream consumer ready",
		"stream", cfg.Stream, "consumer", cfg.Consumer, "workers", cfg.Workers)

	return &Consumer{consumer: consumer, processor: p, cfg: cfg, logger: logger}, nil
}

// Run consumes until ctx is cancelled, then waits for in-flight messages.
func (c *Consumer) Run(ctx context.Context) error {
	it, err := c.consumer.Messages(jetstream.PullMaxMessages(c.cfg.Workers * 2))
	if err != nil {
		return fmt.Errorf("start consuming %s: %w", c.cfg.Consumer, err)
	}

	next := func() (delivery, error) {
		msg, err := it.Next()
		if err != nil {
			return nil, err
		}
		return msg, nil
	}
	return c.consume(ctx, next, it.Stop)
}

func (c *Consumer) consume(ctx context.Context, next func() (delivery, error), stop func()) error {
	go func() {
		<-ctx.Done()
		stop()
	}()

	// In-flight messages finish even after shutdown starts; the per-message
	// timeout still bounds them.
	procCtx := context.WithoutCancel(ctx)

	g := new(errgroup.Group)
	g.SetLimit(c.cfg.Workers)

	for {
		msg, err := next()
		if err != nil {
			if errors.Is(err, jetstream.ErrMsgIteratorClosed) || ctx.Err() != nil {
				break
			}
			c.logger.Warn("stream fetch failed", logging.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(fetchRetryDelay):
			}
			continue
		}

		g.Go(func() error {
			c.handle(procCtx, msg)
			return nil
		})
	}

	return g.Wait()
}

func (c *Consumer) handle(ctx context.Context, msg delivery) {
	in := c.inbound(msg)
	metrics.MessagesReceived.WithLabelValues("jetstream").Inc()

	out := c.processor.Process(ctx, in)

	if out.Transient() {
		// Let the broker redeliver up to MaxDeliver.
		if err := msg.Nak(); err != nil {
			c.logger.WarnContext(ctx, "nak failed", logging.Sequence(in.Metadata.SequenceNumber), logging.Error(err))
		}
		metrics.SourceAcks.WithLabelValues("nak").Inc()
		return
	}

	if err := msg.Ack(); err != nil {
		c.logger.WarnContext(ctx, "ack failed", logging.Sequence(in.Metadata.SequenceNumber), logging.Error(err))
	}
	metrics.SourceAcks.WithLabelValues("ack").Inc()
}

// inbound maps a delivery onto the pipeline's message model.
func (c *Consumer) inbound(msg delivery) *models.InboundMessage {
	md := models.StreamMetadata{
		PartitionKey:  msg.Subject(),
		ConsumerGroup: c.cfg.Consumer,
	}
	if h := msg.Headers(); h != nil {
		if pk := h.Get(messaging.HeaderPartitionKey); pk != "" {
			md.PartitionKey = pk
		}
	}

	meta, err := msg.Metadata()
	if err != nil {
		c.logger.Warn("delivery has no jetstream metadata", logging.Error(err))
	} else {
		md.SequenceNumber = int64(meta.Sequence.Stream)
		md.Offset = meta.Stream + ":" + strconv.FormatUint(meta.Sequence.Stream, 10)
		if !meta.Timestamp.IsZero() {
			ts := meta.Timestamp.UTC()
			md.EnqueuedAt = &ts
		}
		if meta.Consumer != "" {
			md.ConsumerGroup = meta.Consumer
		}
	}

	return &models.InboundMessage{Payload: msg.Data(), Metadata: md}
}
