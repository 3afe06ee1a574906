// Package memory is an in-process Store for development and tests.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/telhawk-systems/eventsink/internal/models"
	"github.com/telhawk-systems/eventsink/internal/store"
)

// ErrNotFound is returned by Get for unknown ids.
var ErrNotFound = errors.New("document not found")

// Store keeps JSON-encoded documents in a map.
type Store struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

func New() *Store {
	return &Store{docs: make(map[string][]byte)}
}

func (s *Store) Create(ctx context.Context, id string, doc models.Record) error {
	if err := ctx.Err(); err != nil {
		return store.Transient("create", id, err)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return store.Permanent("create", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; ok {
		return store.Conflict("create", id)
	}
	s.docs[id] = data
	return nil
}

func (s *Store) Replace(ctx context.Context, id string, doc models.Record) error {
	if err := ctx.Err(); err != nil {
		return store.Transient("replace", id, err)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return store.Permanent("replace", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return store.Permanent("replace", id, ErrNotFound)
	}
	s.docs[id] = data
	return nil
}

// Get returns a decoded copy of the stored document.
func (s *Store) Get(_ context.Context, id string) (models.Record, error) {
	s.mu.RLock()
	data, ok := s.docs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var rec models.Record
	if err := dec.Decode(&rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Len returns the number of stored documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }
