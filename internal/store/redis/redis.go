// Package redis stores records as JSON strings in Redis.
package redis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/telhawk-systems/eventsink/internal/models"
	"github.com/telhawk-systems/eventsink/internal/store"
)

// ErrNotFound is wrapped when a replace targets a missing key.
var ErrNotFound = errors.New("document not found")

// Server replies that clear on their own.
var transientPrefixes = []string{"LOADING", "BUSY", "TRYAGAIN", "CLUSTERDOWN", "MASTERDOWN", "READONLY"}

// Config holds Redis settings.
type Config struct {
	URL string
	// KeyPrefix namespaces keys, usually "<database>:<collection>".
	KeyPrefix string
}

// Store is a store.Store keyed by "<prefix>:<id>".
type Store struct {
	client *redis.Client
	prefix string
}

// New parses the URL and pings the server.
func New(ctx context.Context, cfg Config) (*Store, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	// Retries belong to the upsert coordinator.
	opt.MaxRetries = -1

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewWithClient(client, cfg.KeyPrefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

func (s *Store) key(id string) string {
	if s.prefix == "" {
		return id
	}
	return s.prefix + ":" + id
}

func (s *Store) Create(ctx context.Context, id string, doc models.Record) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return store.Permanent("create", id, err)
	}

	ok, err := s.client.SetNX(ctx, s.key(id), data, 0).Result()
	if err != nil {
		return classify("create", id, err)
	}
	if !ok {
		return store.Conflict("create", id)
	}
	return nil
}

func (s *Store) Replace(ctx context.Context, id string, doc models.Record) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return store.Permanent("replace", id, err)
	}

	ok, err := s.client.SetXX(ctx, s.key(id), data, 0).Result()
	if err != nil {
		return classify("replace", id, err)
	}
	if !ok {
		return store.Permanent("replace", id, ErrNotFound)
	}
	return nil
}

// Get loads a stored document.
func (s *Store) Get(ctx context.Context, id string) (models.Record, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var rec models.Record
	if err := dec.Decode(&rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}

func classify(op, id string, err error) error {
	var redisErr redis.Error
	if errors.As(err, &redisErr) {
		for _, prefix := range transientPrefixes {
			if redis.HasErrorPrefix(err, prefix) {
				return store.Transient(op, id, err)
			}
		}
		return store.Permanent(op, id, err)
	}

	var netErr net.Error
	switch {
	case errors.As(err, &netErr),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, redis.ErrClosed),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return store.Transient(op, id, err)
	}
	return store.Permanent(op, id, err)
}
