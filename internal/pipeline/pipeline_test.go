package pipeline_test

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/telhawk-systems/eventsink/common/logging"
	"github.com/telhawk-systems/eventsink/internal/models"
	"github.com/telhawk-systems/eventsink/internal/pipeline"
	"github.com/telhawk-systems/eventsink/internal/store/memory"
	"github.com/telhawk-systems/eventsink/internal/upsert"
)

// steppingClock advances by one millisecond on every read.
type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

type capturingReporter struct {
	mu       sync.Mutex
	outcomes []models.Outcome
}

func (r *capturingReporter) Report(_ context.Context, _ *models.InboundMessage, out models.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, out)
}

type panickingUpserter struct{}

func (panickingUpserter) Upsert(context.Context, models.Record) models.Outcome {
	panic("boom")
}

type harness struct {
	store    *memory.Store
	reporter *capturingReporter
	pipeline *pipeline.Pipeline
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := &steppingClock{now: time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)}
	st := memory.New()
	rep := &capturingReporter{}
	coord := upsert.New(st, upsert.Config{Timeout: time.Second, MaxRetries: 2, InitialBackoff: time.Millisecond},
		upsert.WithClock(clock.Now), upsert.WithLogger(logging.Discard()))
	p := pipeline.New(coord, rep,
		pipeline.WithClock(clock.Now),
		pipeline.WithConsumerGroup("$Default"),
		pipeline.WithLogger(logging.Discard()))
	return &harness{store: st, reporter: rep, pipeline: p}
}

func message(payload string) *models.InboundMessage {
	enq := time.Date(2025, 3, 14, 15, 9, 20, 0, time.UTC)
	return &models.InboundMessage{
		Payload: []byte(payload),
		Metadata: models.StreamMetadata{
			PartitionKey:   "p0",
			SequenceNumber: 42,
			Offset:         "EVENTSINK_EVENTS:42",
			EnqueuedAt:     &enq,
		},
	}
}

const sensorA = `{"id":"dev-1","name":"Sensor A","data":{"temp":21}}`

func TestProcess_Created(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	out := h.pipeline.Process(ctx, message(sensorA))

	assert.Equal(t, models.OutcomeCreated, out.Kind)
	assert.Equal(t, "dev-1", out.ID)
	assert.False(t, out.Generated)

	stored, err := h.store.Get(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, "dev-1", stored["id"])
	assert.Equal(t, "Sensor A", stored["name"])
	assert.Equal(t, "eventhub", stored["source"])
	assert.Equal(t, "ingestion-pipeline", stored["processed_by"])

	md, ok := stored["eventhub_metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "p0", md["partition_key"])
	assert.Equal(t, "$Default", md["consumer_group"])
	assert.Equal(t, "2025-03-14T15:09:20.000000Z", md["enqueued_time"])

	require.Len(t, h.reporter.outcomes, 1)
	assert.Equal(t, out, h.reporter.outcomes[0])
}

func TestProcess_SameMessageTwiceUpdates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.pipeline.Process(ctx, message(sensorA))
	require.Equal(t, models.OutcomeCreated, first.Kind)
	firstStored, err := h.store.Get(ctx, "dev-1")
	require.NoError(t, err)

	second := h.pipeline.Process(ctx, message(sensorA))
	assert.Equal(t, models.OutcomeUpdated, second.Kind)
	assert.Equal(t, "dev-1", second.ID)

	stored, err := h.store.Get(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, "dev-1", stored["id"])
	assert.Equal(t, 1, h.store.Len())

	receivedAt, err := time.Parse(models.TimeFormat, firstStored["received_at"].(string))
	require.NoError(t, err)
	updatedAt, err := time.Parse(models.TimeFormat, stored["updated_at"].(string))
	require.NoError(t, err)
	assert.True(t, updatedAt.After(receivedAt), "updated_at %s should follow received_at %s", updatedAt, receivedAt)
}

func TestProcess_GeneratedID(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	out := h.pipeline.Process(ctx, message(`{"data":{"temp":5}}`))

	require.Equal(t, models.OutcomeCreated, out.Kind)
	assert.True(t, out.Generated)
	assert.Regexp(t, regexp.MustCompile(`^eh-p0-42-\d{14,}$`), out.ID)

	stored, err := h.store.Get(ctx, out.ID)
	require.NoError(t, err)
	assert.Equal(t, "EventHub Message "+out.ID, stored["name"])
}

func TestProcess_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"truncated object", `{`},
		{"array", `[1,2,3]`},
		{"scalar", `42`},
		{"plain text", `hello`},
		{"empty", ``},
		{"boolean id", `{"id":true}`},
		{"object id", `{"id":{"nested":1}}`},
		{"array id", `{"id":["a"]}`},
		{"invalid utf-8", "{\"id\":\"dev-\xff\",\"name\":\"x\"}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)

			out := h.pipeline.Process(context.Background(), message(tt.payload))

			assert.Equal(t, models.OutcomeSkipped, out.Kind)
			assert.Equal(t, models.ReasonMalformed, out.Reason)
			assert.Equal(t, 0, h.store.Len())
			require.Len(t, h.reporter.outcomes, 1)
		})
	}
}

func TestProcess_FalsyIDIsGenerated(t *testing.T) {
	for _, payload := range []string{`{"id":0}`, `{"id":false}`, `{"id":[]}`, `{"id":{}}`, `{"id":""}`, `{"id":null}`} {
		t.Run(payload, func(t *testing.T) {
			h := newHarness(t)

			out := h.pipeline.Process(context.Background(), message(payload))

			require.Equal(t, models.OutcomeCreated, out.Kind)
			assert.True(t, out.Generated)
			assert.Regexp(t, regexp.MustCompile(`^eh-p0-42-\d{14,}$`), out.ID)
		})
	}
}

func TestProcess_DistinctInvalidUTF8IDsNotMerged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.pipeline.Process(ctx, message("{\"id\":\"dev-\xff\"}"))
	second := h.pipeline.Process(ctx, message("{\"id\":\"dev-\xfe\"}"))

	assert.Equal(t, models.OutcomeSkipped, first.Kind)
	assert.Equal(t, models.OutcomeSkipped, second.Kind)
	assert.Equal(t, 0, h.store.Len())
}

func TestProcess_NumericID(t *testing.T) {
	h := newHarness(t)

	out := h.pipeline.Process(context.Background(), message(`{"id":1234567890123,"name":"n"}`))

	assert.Equal(t, models.OutcomeCreated, out.Kind)
	assert.Equal(t, "1234567890123", out.ID)
}

func TestProcess_NilMessage(t *testing.T) {
	h := newHarness(t)
	out := h.pipeline.Process(context.Background(), nil)
	assert.Equal(t, models.OutcomeSkipped, out.Kind)
}

func TestProcess_RecoversPanic(t *testing.T) {
	rep := &capturingReporter{}
	p := pipeline.New(panickingUpserter{}, rep, pipeline.WithLogger(logging.Discard()))

	var out models.Outcome
	assert.NotPanics(t, func() {
		out = p.Process(context.Background(), message(sensorA))
	})
	assert.Equal(t, models.OutcomeFailed, out.Kind)
	assert.Equal(t, models.ReasonPermanent, out.Reason)
	require.Len(t, rep.outcomes, 1)
}

func TestProcess_Concurrent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.pipeline.Process(ctx, message(sensorA))
		}()
	}
	wg.Wait()

	created := 0
	for _, out := range h.reporter.outcomes {
		require.Contains(t, []models.OutcomeKind{models.OutcomeCreated, models.OutcomeUpdated}, out.Kind)
		if out.Kind == models.OutcomeCreated {
			created++
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, h.store.Len())
}
