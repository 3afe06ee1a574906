// Package store defines the document store contract used by the upsert coordinator.
//
// Backends never surface raw driver errors. Every failure is wrapped in *Error
// with one of the kinds below so the coordinator can branch exhaustively.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/telhawk-systems/eventsink/internal/models"
)

// Store persists records keyed by their id. Implementations are shared across
// concurrent pipeline invocations and must be safe for concurrent use.
type Store interface {
	// Create inserts doc under id. It fails with ErrConflict when id already exists.
	Create(ctx context.Context, id string, doc models.Record) error
	// Replace overwrites the document stored under id.
	Replace(ctx context.Context, id string, doc models.Record) error
	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// Kind is the classification of a store failure.
type Kind int

const (
	KindNone Kind = iota
	KindConflict
	KindTransient
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "ok"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

var (
	ErrConflict  = errors.New("document already exists")
	ErrTransient = errors.New("transient store error")
	ErrPermanent = errors.New("permanent store error")
)

// Error is a classified store failure.
type Error struct {
	Op   string
	ID   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %q: %s", e.Op, e.ID, e.Kind)
	}
	return fmt.Sprintf("%s %q: %s: %v", e.Op, e.ID, e.Kind, e.Err)
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	errs := []error{e.Kind.sentinel()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func (k Kind) sentinel() error {
	switch k {
	case KindConflict:
		return ErrConflict
	case KindTransient:
		return ErrTransient
	default:
		return ErrPermanent
	}
}

// Conflict builds a conflict error.
func Conflict(op, id string) error {
	return &Error{Op: op, ID: id, Kind: KindConflict}
}

// Transient wraps err as a retryable failure.
func Transient(op, id string, err error) error {
	return &Error{Op: op, ID: id, Kind: KindTransient, Err: err}
}

// Permanent wraps err as a failure that will not resolve on retry.
func Permanent(op, id string, err error) error {
	return &Error{Op: op, ID: id, Kind: KindPermanent, Err: err}
}

// Classify maps any error returned by a Store to its kind. Deadlines and
// cancellation are transient; unclassified errors are permanent.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransient
	}
	var se *Error
	if errors.As(err, &se) {
		switch se.Kind {
		case KindConflict, KindTransient, KindPermanent:
			return se.Kind
		}
	}
	return KindPermanent
}
