// Package handlers implements the HTTP surface of eventsink.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/telhawk-systems/eventsink/common/logging"
	"github.com/telhawk-systems/eventsink/common/messaging"
	"github.com/telhawk-systems/eventsink/internal/decoder"
	"github.com/telhawk-systems/eventsink/internal/metrics"
	"github.com/telhawk-systems/eventsink/internal/models"
	"github.com/telhawk-systems/eventsink/internal/store"
)

const (
	maxBodyBytes = 1 << 20
	// ProcessedBy marks documents written through /api/add_item.
	ProcessedBy = "http-function"
	// DefaultPartition is used by /api/ingest when no partition header is sent.
	DefaultPartition = "http"
)

// Request headers read by /api/ingest.
const (
	HeaderPartitionKey   = "X-Partition-Key"
	HeaderSequenceNumber = "X-Sequence-Number"
	HeaderOffset         = "X-Offset"
)

// Processor runs a message through the ingestion pipeline.
type Processor interface {
	Process(ctx context.Context, msg *models.InboundMessage) models.Outcome
}

// Handler serves the test, health, add_item and ingest routes.
type Handler struct {
	store     store.Store
	processor Processor
	source    messaging.HealthChecker
	logger    *logging.Logger
	timeout   time.Duration
	now       func() time.Time

	// seq numbers /api/ingest requests that carry no sequence header.
	seq atomic.Int64
}

// Option customizes a Handler.
type Option func(*Handler)

// WithSource reports broker connectivity on the health route.
func WithSource(c messaging.HealthChecker) Option {
	return func(h *Handler) { h.source = c }
}

// WithLogger sets the handler logger.
func WithLogger(l *logging.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// WithTimeout bounds store calls made directly by the handlers.
func WithTimeout(d time.Duration) Option {
	return func(h *Handler) { h.timeout = d }
}

// WithClock overrides the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// New creates a Handler.
func New(st store.Store, p Processor, opts ...Option) *Handler {
	h := &Handler{
		store:     st,
		processor: p,
		logger:    logging.Default(),
		timeout:   30 * time.Second,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Test confirms the deployment is serving.
func (h *Handler) Test(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "Hello from eventsink! Deployment is working correctly.")
}

// Health pings the store and reports broker state.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w, http.MethodGet, http.MethodHead)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	timestamp := h.now().UTC().Format(models.TimeFormat)
	if err := h.store.Ping(ctx); err != nil {
		h.logger.ErrorContext(r.Context(), "health check failed", logging.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status":    "unhealthy",
			"timestamp": timestamp,
			"error":     err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": timestamp,
		"store":     "connected",
		"source":    sourceState(h.source),
	})
}

func sourceState(c messaging.HealthChecker) string {
	switch messaging.State(c) {
	case messaging.StateMissing:
		return "missing"
	case messaging.StateConnected:
		return "configured"
	default:
		return messaging.StateDisconnected
	}
}

// AddItem creates one document directly, without the ingestion pipeline.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	body, ok := readBody(w, r)
	if !ok {
		return
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		writeError(w, http.StatusBadRequest, "Request body is required")
		return
	}

	item, err := decoder.Decode(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Request body must be a JSON object")
		return
	}
	if len(item) == 0 {
		writeError(w, http.StatusBadRequest, "Request body is required")
		return
	}
	for _, field := range []string{models.FieldID, models.FieldName} {
		if _, ok := item[field]; !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Field '%s' is required", field))
			return
		}
	}

	id, ok := itemID(item[models.FieldID])
	if !ok {
		writeError(w, http.StatusBadRequest, "Field 'id' must be a non-empty string")
		return
	}
	item[models.FieldID] = id

	createdAt := h.now().UTC().Format(models.TimeFormat)
	item[models.FieldCreatedAt] = createdAt
	item[models.FieldProcessedBy] = ProcessedBy

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	err = h.store.Create(ctx, id, item)
	switch store.Classify(err) {
	case store.KindNone:
		h.logger.InfoContext(r.Context(), "item added", logging.RecordID(id))
		writeJSON(w, http.StatusCreated, map[string]string{
			"message":    "Item added successfully",
			"item_id":    id,
			"created_at": createdAt,
		})
	case store.KindConflict:
		h.logger.WarnContext(r.Context(), "item already exists", logging.RecordID(id))
		writeError(w, http.StatusConflict, "Item with this ID already exists")
	default:
		h.logger.ErrorContext(r.Context(), "store create failed", logging.RecordID(id), logging.Error(err))
		writeError(w, http.StatusInternalServerError, "Database operation failed")
	}
}

func itemID(v any) (string, bool) {
	switch id := v.(type) {
	case string:
		return id, id != ""
	case json.Number:
		return id.String(), true
	default:
		return "", false
	}
}

// Ingest runs the raw request body through the ingestion pipeline. Every
// processed message is answered with 202 and its outcome.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	body, ok := readBody(w, r)
	if !ok {
		return
	}

	md, err := h.metadata(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	metrics.MessagesReceived.WithLabelValues("http").Inc()
	out := h.processor.Process(r.Context(), &models.InboundMessage{Payload: body, Metadata: md})
	writeJSON(w, http.StatusAccepted, out)
}

func (h *Handler) metadata(r *http.Request) (models.StreamMetadata, error) {
	now := h.now().UTC()
	md := models.StreamMetadata{
		PartitionKey: r.Header.Get(HeaderPartitionKey),
		Offset:       r.Header.Get(HeaderOffset),
		EnqueuedAt:   &now,
	}
	if md.PartitionKey == "" {
		md.PartitionKey = DefaultPartition
	}
	if raw := r.Header.Get(HeaderSequenceNumber); raw != "" {
		seq, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || seq < 0 {
			return md, fmt.Errorf("Header '%s' must be a non-negative integer", HeaderSequenceNumber)
		}
		md.SequenceNumber = seq
	} else {
		md.SequenceNumber = h.seq.Add(1)
	}
	return md, nil
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "Could not read request body")
		return nil, false
	}
	return body, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
}
