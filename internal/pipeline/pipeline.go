// Package pipeline chains decoding, identity resolution, enrichment, upsert
// and reporting for one inbound message at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/telhawk-systems/eventsink/common/logging"
	"github.com/telhawk-systems/eventsink/internal/decoder"
	"github.com/telhawk-systems/eventsink/internal/enricher"
	"github.com/telhawk-systems/eventsink/internal/identity"
	"github.com/telhawk-systems/eventsink/internal/metrics"
	"github.com/telhawk-systems/eventsink/internal/models"
)

// Upserter persists an enriched record.
type Upserter interface {
	Upsert(ctx context.Context, rec models.Record) models.Outcome
}

// Reporter consumes the terminal outcome of a message.
type Reporter interface {
	Report(ctx context.Context, msg *models.InboundMessage, out models.Outcome)
}

// Pipeline is stateless across messages and safe for concurrent use.
type Pipeline struct {
	upserter      Upserter
	reporter      Reporter
	consumerGroup string
	logger        *logging.Logger
	now           func() time.Time
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithClock overrides the clock used for generated ids and received_at.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithLogger sets the pipeline logger.
func WithLogger(logger *logging.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithConsumerGroup sets the consumer group label stamped on every record.
// When empty, the group carried by the message metadata is used.
func WithConsumerGroup(group string) Option {
	return func(p *Pipeline) { p.consumerGroup = group }
}

// New builds a Pipeline.
func New(u Upserter, r Reporter, opts ...Option) *Pipeline {
	p := &Pipeline{
		upserter: u,
		reporter: r,
		logger:   logging.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process ingests msg and returns its terminal outcome. It never panics and
// never returns an error; every failure is folded into the outcome.
func (p *Pipeline) Process(ctx context.Context, msg *models.InboundMessage) (out models.Outcome) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.logger.ErrorContext(ctx, "pipeline panicked", "panic", fmt.Sprint(r))
			out = models.Failed("", models.ReasonPermanent, fmt.Sprintf("internal error: %v", r), out.Attempts)
		}
		metrics.ProcessingDuration.Observe(time.Since(start).Seconds())
		if p.reporter != nil {
			p.reporter.Report(ctx, msg, out)
		}
	}()

	return p.process(ctx, msg)
}

func (p *Pipeline) process(ctx context.Context, msg *models.InboundMessage) models.Outcome {
	if msg == nil {
		return models.Skipped(models.ReasonMalformed, "nil message")
	}

	rec, err := decoder.Decode(msg.Payload)
	if err != nil {
		return models.Skipped(models.ReasonMalformed, err.Error())
	}

	now := p.now()
	rec, generated, err := identity.Resolve(rec, msg.Metadata, now)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidID) {
			return models.Skipped(models.ReasonMalformed, err.Error())
		}
		return models.Failed("", models.ReasonPermanent, err.Error(), 0)
	}

	rec = enricher.Enrich(rec, msg.Metadata, p.consumerGroup, now)

	out := p.upserter.Upsert(ctx, rec)
	out.Generated = generated
	return out
}
