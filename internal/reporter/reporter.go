// Package reporter turns pipeline outcomes into log entries, metrics and
// dead-letter writes. It never propagates a failure to its caller.
package reporter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/telhawk-systems/eventsink/common/logging"
	"github.com/telhawk-systems/eventsink/internal/dlq"
	"github.com/telhawk-systems/eventsink/internal/metrics"
	"github.com/telhawk-systems/eventsink/internal/models"
)

// Reporter is safe for concurrent use.
type Reporter struct {
	logger *logging.Logger
	dlq    dlq.Writer
	now    func() time.Time
}

// Option customizes a Reporter.
type Option func(*Reporter)

// WithDLQ dead-letters failed and malformed messages to w.
func WithDLQ(w dlq.Writer) Option {
	return func(r *Reporter) { r.dlq = w }
}

// WithClock overrides the clock used for dead-letter timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Reporter) { r.now = now }
}

// New creates a Reporter logging to logger.
func New(logger *logging.Logger, opts ...Option) *Reporter {
	if logger == nil {
		logger = logging.Default()
	}
	r := &Reporter{logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Report records out for msg.
func (r *Reporter) Report(ctx context.Context, msg *models.InboundMessage, out models.Outcome) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.ErrorContext(ctx, "outcome reporting panicked", "panic", fmt.Sprint(p))
		}
	}()

	metrics.Outcomes.WithLabelValues(out.Kind.String(), string(out.Reason)).Inc()

	attrs := []any{
		logging.Outcome(out.Kind.String()),
		logging.RecordID(out.ID),
		slog.Int("attempts", out.Attempts),
	}
	if msg != nil {
		attrs = append(attrs,
			logging.Partition(msg.Metadata.PartitionKey),
			logging.Sequence(msg.Metadata.SequenceNumber),
		)
	}
	if out.Reason != models.ReasonNone {
		attrs = append(attrs, logging.Reason(string(out.Reason)))
	}
	if out.Detail != "" {
		attrs = append(attrs, slog.String("detail", out.Detail))
	}
	if out.Generated {
		attrs = append(attrs, slog.Bool("generated_id", true))
	}

	switch out.Kind {
	case models.OutcomeCreated:
		r.logger.InfoContext(ctx, "record created", attrs...)
	case models.OutcomeUpdated:
		r.logger.InfoContext(ctx, "record updated", attrs...)
	case models.OutcomeSkipped:
		r.logger.WarnContext(ctx, "message skipped", attrs...)
	case models.OutcomeFailed:
		r.logger.ErrorContext(ctx, "message failed", attrs...)
	default:
		r.logger.ErrorContext(ctx, "unknown outcome", attrs...)
	}

	if r.dlq != nil && msg != nil && deadLetter(out) {
		r.writeDLQ(ctx, msg, out)
	}
}

func deadLetter(out models.Outcome) bool {
	switch out.Kind {
	case models.OutcomeFailed:
		return true
	case models.OutcomeSkipped:
		return out.Reason == models.ReasonMalformed
	default:
		return false
	}
}

func (r *Reporter) writeDLQ(ctx context.Context, msg *models.InboundMessage, out models.Outcome) {
	if err := r.dlq.Write(ctx, dlq.NewFailedMessage(msg, out, r.now())); err != nil {
		metrics.DLQWrites.WithLabelValues("error").Inc()
		r.logger.ErrorContext(ctx, "dead-letter write failed", logging.RecordID(out.ID), logging.Error(err))
		return
	}
	metrics.DLQWrites.WithLabelValues("ok").Inc()
}
