package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/telhawk-systems/eventsink/common/logging"
	"github.com/telhawk-systems/eventsink/common/messaging"
	"github.com/telhawk-systems/eventsink/common/messaging/nats"
)

// JetStreamQueue publishes failed messages to a JetStream stream.
// Safe for use across multiple eventsink instances.
type JetStreamQueue struct {
	publisher messaging.Publisher
	stream    jetstream.Stream
	logger    *logging.Logger
	written   uint64
}

// NewJetStreamQueue ensures the DLQ stream exists and returns a queue publishing to it.
func NewJetStreamQueue(ctx context.Context, js *nats.JetStreamClient, logger *logging.Logger) (*JetStreamQueue, error) {
	if js == nil {
		return nil, fmt.Errorf("jetstream client is nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	stream, err := js.CreateOrUpdateStream(ctx, nats.DLQStream)
	if err != nil {
		return nil, fmt.Errorf("create dlq stream: %w", err)
	}

	logger.Info("DLQ: JetStream stream ready", "stream", nats.DLQStream.Name)

	return &JetStreamQueue{publisher: js, stream: stream, logger: logger}, nil
}

// NewPublisherQueue returns a queue that publishes through p without stream stats.
func NewPublisherQueue(p messaging.Publisher, logger *logging.Logger) *JetStreamQueue {
	if logger == nil {
		logger = logging.Default()
	}
	return &JetStreamQueue{publisher: p, logger: logger}
}

// Write publishes failed on eventsink.dlq.<reason>.
func (q *JetStreamQueue) Write(ctx context.Context, failed FailedMessage) error {
	if q == nil {
		return nil
	}

	data, err := json.Marshal(failed)
	if err != nil {
		return fmt.Errorf("marshal dlq entry: %w", err)
	}

	msg := &messaging.Message{
		Subject: messaging.DLQSubject(failed.Reason),
		Data:    data,
		Headers: map[string]string{messaging.HeaderContentType: "application/json"},
	}
	if err := q.publisher.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("publish dlq entry: %w", err)
	}

	atomic.AddUint64(&q.written, 1)
	q.logger.DebugContext(ctx, "DLQ: published failed message", "subject", msg.Subject)
	return nil
}

// Stats returns DLQ counters, including stream state when available.
func (q *JetStreamQueue) Stats(ctx context.Context) map[string]interface{} {
	if q == nil {
		return map[string]interface{}{"enabled": false, "backend": "jetstream"}
	}

	stats := map[string]interface{}{
		"enabled":       true,
		"backend":       "jetstream",
		"written_local": atomic.LoadUint64(&q.written),
	}
	if q.stream == nil {
		return stats
	}

	info, err := q.stream.Info(ctx)
	if err != nil {
		stats["error"] = err.Error()
		return stats
	}
	stats["total_messages"] = info.State.Msgs
	stats["total_bytes"] = info.State.Bytes
	stats["first_seq"] = info.State.FirstSeq
	stats["last_seq"] = info.State.LastSeq
	return stats
}
