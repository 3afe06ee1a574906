// Package dlq keeps messages the pipeline could not persist for later replay.
package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/telhawk-systems/eventsink/common/logging"
	"github.com/telhawk-systems/eventsink/internal/models"
)

// ErrDisabled is returned by read operations on a nil queue.
var ErrDisabled = errors.New("dlq not enabled")

// FailedMessage captures a dead-lettered message and why it was dropped.
type FailedMessage struct {
	Timestamp time.Time             `json:"timestamp"`
	Outcome   string                `json:"outcome"`
	Reason    string                `json:"reason"`
	RecordID  string                `json:"record_id,omitempty"`
	Detail    string                `json:"detail,omitempty"`
	Attempts  int                   `json:"attempts"`
	Payload   []byte                `json:"payload"`
	Metadata  models.StreamMetadata `json:"metadata"`
}

// NewFailedMessage builds the entry for msg and its outcome.
func NewFailedMessage(msg *models.InboundMessage, out models.Outcome, now time.Time) FailedMessage {
	return FailedMessage{
		Timestamp: now.UTC(),
		Outcome:   out.Kind.String(),
		Reason:    string(out.Reason),
		RecordID:  out.ID,
		Detail:    out.Detail,
		Attempts:  out.Attempts,
		Payload:   msg.Payload,
		Metadata:  msg.Metadata,
	}
}

// Writer accepts dead-lettered messages.
type Writer interface {
	Write(ctx context.Context, failed FailedMessage) error
}

// Queue writes failed messages to a directory, one JSON file each.
type Queue struct {
	basePath string
	logger   *logging.Logger
	mu       sync.Mutex
	written  uint64
}

// NewQueue creates a DLQ that writes to the specified directory.
func NewQueue(basePath string, logger *logging.Logger) (*Queue, error) {
	if basePath == "" {
		basePath = "/var/lib/eventsink/dlq"
	}
	if logger == nil {
		logger = logging.Default()
	}

	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create dlq directory: %w", err)
	}

	return &Queue{basePath: basePath, logger: logger}, nil
}

// Write records a failed message.
func (q *Queue) Write(ctx context.Context, failed FailedMessage) error {
	if q == nil {
		return nil
	}

	data, err := json.MarshalIndent(failed, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal dlq entry: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	filename := fmt.Sprintf("failed_%d_%d.json", failed.Timestamp.UnixNano(), q.written)
	if err := os.WriteFile(filepath.Join(q.basePath, filename), data, 0o644); err != nil {
		return fmt.Errorf("write dlq entry: %w", err)
	}

	q.written++
	q.logger.DebugContext(ctx, "DLQ: wrote failed message",
		"file", filename, logging.Reason(failed.Reason))
	return nil
}

// Stats returns DLQ counters.
func (q *Queue) Stats() map[string]interface{} {
	if q == nil {
		return map[string]interface{}{"enabled": false}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	files, err := os.ReadDir(q.basePath)
	if err != nil {
		return map[string]interface{}{
			"enabled": true,
			"backend": "file",
			"written": q.written,
			"error":   err.Error(),
		}
	}

	return map[string]interface{}{
		"enabled":       true,
		"backend":       "file",
		"written":       q.written,
		"pending_files": len(files),
		"base_path":     q.basePath,
	}
}

// List returns up to limit failed messages, oldest first. A limit of zero lists all.
func (q *Queue) List(ctx context.Context, limit int) ([]FailedMessage, error) {
	if q == nil {
		return nil, ErrDisabled
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	files, err := os.ReadDir(q.basePath)
	if err != nil {
		return nil, fmt.Errorf("read dlq directory: %w", err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name() < files[j].Name() })

	var out []FailedMessage
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}

		data, err := os.ReadFile(filepath.Join(q.basePath, file.Name()))
		if err != nil {
			q.logger.WarnContext(ctx, "failed to read DLQ file", "file", file.Name(), logging.Error(err))
			continue
		}

		var failed FailedMessage
		if err := json.Unmarshal(data, &failed); err != nil {
			q.logger.WarnContext(ctx, "failed to parse DLQ file", "file", file.Name(), logging.Error(err))
			continue
		}
		out = append(out, failed)
	}

	return out, nil
}

// Purge removes all messages from the queue and returns how many were deleted.
func (q *Queue) Purge(ctx context.Context) (int, error) {
	if q == nil {
		return 0, ErrDisabled
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	files, err := os.ReadDir(q.basePath)
	if err != nil {
		return 0, fmt.Errorf("read dlq directory: %w", err)
	}

	deleted := 0
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(q.basePath, file.Name())); err != nil {
			q.logger.WarnContext(ctx, "failed to delete DLQ file", "file", file.Name(), logging.Error(err))
			continue
		}
		deleted++
	}

	return deleted, nil
}
