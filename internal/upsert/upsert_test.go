package upsert_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/telhawk-systems/eventsink/common/logging"
	"github.com/telhawk-systems/eventsink/internal/models"
	"github.com/telhawk-systems/eventsink/internal/store"
	"github.com/telhawk-systems/eventsink/internal/store/memory"
	"github.com/telhawk-systems/eventsink/internal/upsert"
)

// scriptedStore returns queued errors before delegating to an in-memory store.
type scriptedStore struct {
	*memory.Store
	mu           sync.Mutex
	createErrs   []error
	replaceErrs  []error
	createCalls  int
	replaceCalls int
	block        bool
}

func newScriptedStore() *scriptedStore {
	return &scriptedStore{Store: memory.New()}
}

func (s *scriptedStore) Create(ctx context.Context, id string, doc models.Record) error {
	s.mu.Lock()
	s.createCalls++
	var err error
	if len(s.createErrs) > 0 {
		err, s.createErrs = s.createErrs[0], s.createErrs[1:]
	}
	block := s.block
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return store.Transient("create", id, ctx.Err())
	}
	if err != nil {
		return err
	}
	return s.Store.Create(ctx, id, doc)
}

func (s *scriptedStore) Replace(ctx context.Context, id string, doc models.Record) error {
	s.mu.Lock()
	s.replaceCalls++
	var err error
	if len(s.replaceErrs) > 0 {
		err, s.replaceErrs = s.replaceErrs[0], s.replaceErrs[1:]
	}
	s.mu.Unlock()

	if err != nil {
		return err
	}
	return s.Store.Replace(ctx, id, doc)
}

type logEntry struct {
	Msg     string `json:"msg"`
	Op      string `json:"op"`
	Attempt int    `json:"attempt"`
	Result  string `json:"result"`
}

func captureLogs(t *testing.T) (*logging.Logger, func() []logEntry) {
	t.Helper()
	var buf bytes.Buffer
	logger := logging.NewWriter(&buf, slog.LevelDebug, "json")
	return logger, func() []logEntry {
		var entries []logEntry
		for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
			if line == "" {
				continue
			}
			var e logEntry
			require.NoError(t, json.Unmarshal([]byte(line), &e))
			if e.Msg == "store attempt" {
				entries = append(entries, e)
			}
		}
		return entries
	}
}

func testConfig() upsert.Config {
	return upsert.Config{
		Timeout:        time.Second,
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

var fixedNow = time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)

func record(id string) models.Record {
	return models.Record{"id": id, "name": "Sensor A", "received_at": "2025-03-14T15:09:25.000000Z"}
}

func TestUpsert_Created(t *testing.T) {
	s := newScriptedStore()
	logger, logs := captureLogs(t)
	c := upsert.New(s, testConfig(), upsert.WithLogger(logger))

	out := c.Upsert(context.Background(), record("dev-1"))

	assert.Equal(t, models.OutcomeCreated, out.Kind)
	assert.Equal(t, "dev-1", out.ID)
	assert.Equal(t, 1, out.Attempts)
	require.Len(t, logs(), 1)
	assert.Equal(t, "ok", logs()[0].Result)
}

func TestUpsert_TransientThenSuccess(t *testing.T) {
	s := newScriptedStore()
	s.createErrs = []error{
		store.Transient("create", "dev-1", errors.New("429 throttled")),
		store.Transient("create", "dev-1", errors.New("connection reset")),
	}
	logger, logs := captureLogs(t)
	c := upsert.New(s, testConfig(), upsert.WithLogger(logger))

	out := c.Upsert(context.Background(), record("dev-1"))

	assert.Equal(t, models.OutcomeCreated, out.Kind)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, 3, s.createCalls)

	entries := logs()
	require.Len(t, entries, out.Attempts)
	for i, e := range entries {
		assert.Equal(t, "create", e.Op)
		assert.Equal(t, i+1, e.Attempt)
	}
	assert.Equal(t, "transient", entries[0].Result)
	assert.Equal(t, "transient", entries[1].Result)
	assert.Equal(t, "ok", entries[2].Result)
}

func TestUpsert_RetriesExhausted(t *testing.T) {
	s := newScriptedStore()
	for i := 0; i < 10; i++ {
		s.createErrs = append(s.createErrs, store.Transient("create", "dev-1", errors.New("503")))
	}
	logger, logs := captureLogs(t)
	cfg := testConfig()
	cfg.MaxRetries = 2
	c := upsert.New(s, cfg, upsert.WithLogger(logger))

	out := c.Upsert(context.Background(), record("dev-1"))

	assert.Equal(t, models.OutcomeFailed, out.Kind)
	assert.Equal(t, models.ReasonTransient, out.Reason)
	assert.True(t, out.Transient())
	assert.Equal(t, 3, out.Attempts)
	assert.Len(t, logs(), 3)
	assert.Equal(t, 0, s.Len())
}

func TestUpsert_PermanentCreateNotRetried(t *testing.T) {
	s := newScriptedStore()
	s.createErrs = []error{store.Permanent("create", "dev-1", errors.New("403 forbidden"))}
	c := upsert.New(s, testConfig(), upsert.WithLogger(logging.Discard()))

	out := c.Upsert(context.Background(), record("dev-1"))

	assert.Equal(t, models.OutcomeFailed, out.Kind)
	assert.Equal(t, models.ReasonPermanent, out.Reason)
	assert.Contains(t, out.Detail, "403 forbidden")
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, 1, s.createCalls)
}

func TestUpsert_ConflictReplaces(t *testing.T) {
	s := newScriptedStore()
	logger, logs := captureLogs(t)
	c := upsert.New(s, testConfig(), upsert.WithLogger(logger), upsert.WithClock(func() time.Time { return fixedNow }))

	first := c.Upsert(context.Background(), record("dev-1"))
	require.Equal(t, models.OutcomeCreated, first.Kind)

	second := record("dev-1")
	second["name"] = "Sensor B"
	out := c.Upsert(context.Background(), second)

	assert.Equal(t, models.OutcomeUpdated, out.Kind)
	assert.Equal(t, 2, out.Attempts)
	assert.NotContains(t, second, models.FieldUpdatedAt, "input record must not be mutated")

	stored, err := s.Get(context.Background(), "dev-1")
	require.NoError(t, err)
	assert.Equal(t, "Sensor B", stored["name"])
	assert.Equal(t, "2025-03-14T15:09:26.000000Z", stored[models.FieldUpdatedAt])

	entries := logs()
	require.Len(t, entries, 3)
	assert.Equal(t, "conflict", entries[1].Result)
	assert.Equal(t, "replace", entries[2].Op)
	assert.Equal(t, "ok", entries[2].Result)
}

func TestUpsert_ReplaceFailureIsPermanent(t *testing.T) {
	s := newScriptedStore()
	s.createErrs = []error{store.Conflict("create", "dev-1")}
	s.replaceErrs = []error{store.Transient("replace", "dev-1", errors.New("503"))}
	c := upsert.New(s, testConfig(), upsert.WithLogger(logging.Discard()))

	out := c.Upsert(context.Background(), record("dev-1"))

	assert.Equal(t, models.OutcomeFailed, out.Kind)
	assert.Equal(t, models.ReasonPermanent, out.Reason)
	assert.Equal(t, 1, s.replaceCalls)
}

func TestUpsert_ReplaceDeadlineIsTransient(t *testing.T) {
	s := newScriptedStore()
	s.createErrs = []error{store.Conflict("create", "dev-1")}
	s.replaceErrs = []error{store.Transient("replace", "dev-1", context.DeadlineExceeded)}
	c := upsert.New(s, testConfig(), upsert.WithLogger(logging.Discard()))

	out := c.Upsert(context.Background(), record("dev-1"))

	assert.Equal(t, models.OutcomeFailed, out.Kind)
	assert.Equal(t, models.ReasonTransient, out.Reason)
}

func TestUpsert_Timeout(t *testing.T) {
	s := newScriptedStore()
	s.block = true
	cfg := testConfig()
	cfg.Timeout = 20 * time.Millisecond
	c := upsert.New(s, cfg, upsert.WithLogger(logging.Discard()))

	start := time.Now()
	out := c.Upsert(context.Background(), record("dev-1"))

	assert.Equal(t, models.OutcomeFailed, out.Kind)
	assert.Equal(t, models.ReasonTransient, out.Reason)
	assert.Less(t, time.Since(start), time.Second)
}

func TestUpsert_ZeroRetries(t *testing.T) {
	s := newScriptedStore()
	s.createErrs = []error{store.Transient("create", "dev-1", errors.New("503"))}
	cfg := testConfig()
	cfg.MaxRetries = 0
	c := upsert.New(s, cfg, upsert.WithLogger(logging.Discard()))

	out := c.Upsert(context.Background(), record("dev-1"))

	assert.Equal(t, models.OutcomeFailed, out.Kind)
	assert.Equal(t, 1, out.Attempts)
}
