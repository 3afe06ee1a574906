// Package upsert implements create-then-replace persistence of enriched
// records with bounded retries on transient create failures.
package upsert

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/telhawk-systems/eventsink/common/logging"
	"github.com/telhawk-systems/eventsink/internal/metrics"
	"github.com/telhawk-systems/eventsink/internal/models"
	"github.com/telhawk-systems/eventsink/internal/store"
)

const (
	opCreate  = "create"
	opReplace = "replace"
)

// Config bounds store work for a single message.
type Config struct {
	// Timeout caps all store calls for one message. Zero disables it.
	Timeout time.Duration
	// MaxRetries is the number of create retries after the first attempt.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		Timeout:        30 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	}
}

// Coordinator drives a record through create, and replace on conflict.
// It holds no per-message state and is safe for concurrent use.
type Coordinator struct {
	store  store.Store
	cfg    Config
	logger *logging.Logger
	now    func() time.Time
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the clock used for updated_at.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithLogger sets the logger receiving one entry per store attempt.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// New creates a Coordinator backed by s.
func New(s store.Store, cfg Config, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:  s,
		cfg:    cfg,
		logger: logging.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Upsert persists rec under rec.ID() and always returns a terminal Outcome.
func (c *Coordinator) Upsert(ctx context.Context, rec models.Record) models.Outcome {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	id := rec.ID()
	attempts := 0
	conflict := false

	create := func() error {
		attempts++
		err := c.call(ctx, opCreate, id, attempts, func(ctx context.Context) error {
			return c.store.Create(ctx, id, rec)
		})
		switch store.Classify(err) {
		case store.KindNone:
			return nil
		case store.KindConflict:
			conflict = true
			return nil
		case store.KindTransient:
			return err
		default:
			return backoff.Permanent(err)
		}
	}

	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), uint64(max(c.cfg.MaxRetries, 0))), ctx)
	notify := func(error, time.Duration) { metrics.StoreRetries.Inc() }

	if err := backoff.RetryNotify(create, b, notify); err != nil {
		if store.Classify(err) == store.KindTransient {
			return models.Failed(id, models.ReasonTransient, err.Error(), attempts)
		}
		return models.Failed(id, models.ReasonPermanent, err.Error(), attempts)
	}
	if !conflict {
		return models.Created(id, attempts)
	}

	doc := rec.Clone()
	doc[models.FieldUpdatedAt] = c.now().UTC().Format(models.TimeFormat)

	attempts++
	err := c.call(ctx, opReplace, id, attempts, func(ctx context.Context) error {
		return c.store.Replace(ctx, id, doc)
	})
	switch {
	case err == nil:
		return models.Updated(id, attempts)
	case errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil:
		return models.Failed(id, models.ReasonTransient, err.Error(), attempts)
	default:
		// Replace failures after a known conflict are not retried.
		return models.Failed(id, models.ReasonPermanent, err.Error(), attempts)
	}
}

// call runs one store operation and records exactly one log entry for it.
func (c *Coordinator) call(ctx context.Context, op, id string, attempt int, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)

	result := store.Classify(err).String()
	metrics.StoreAttempts.WithLabelValues(op, result).Inc()
	metrics.StoreDuration.WithLabelValues(op).Observe(elapsed.Seconds())

	args := []any{
		logging.Op(op),
		logging.RecordID(id),
		logging.Attempt(attempt),
		"result", result,
		logging.Duration(elapsed.Milliseconds()),
	}
	if err != nil {
		args = append(args, logging.Error(err))
		c.logger.WarnContext(ctx, "store attempt", args...)
	} else {
		c.logger.DebugContext(ctx, "store attempt", args...)
	}
	return err
}

func (c *Coordinator) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if c.cfg.InitialBackoff > 0 {
		b.InitialInterval = c.cfg.InitialBackoff
	}
	if c.cfg.MaxBackoff > 0 {
		b.MaxInterval = c.cfg.MaxBackoff
	}
	// The retry count and the message timeout are the only bounds.
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
