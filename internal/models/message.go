package models

import "time"

// TimeFormat is the layout used for every timestamp the pipeline writes into a record.
// Fixed-width microseconds keep the values lexically sortable.
const TimeFormat = "2006-01-02T15:04:05.000000Z07:00"

// Reserved record fields written by the pipeline.
const (
	FieldID          = "id"
	FieldName        = "name"
	FieldMetadata    = "eventhub_metadata"
	FieldReceivedAt  = "received_at"
	FieldProcessedBy = "processed_by"
	FieldSource      = "source"
	FieldUpdatedAt   = "updated_at"
	FieldCreatedAt   = "created_at"
)

// StreamMetadata describes where a message came from on the stream.
type StreamMetadata struct {
	PartitionKey   string     `json:"partition_key"`
	SequenceNumber int64      `json:"sequence_number"`
	Offset         string     `json:"offset"`
	EnqueuedAt     *time.Time `json:"enqueued_time"`
	ConsumerGroup  string     `json:"consumer_group"`
}

// InboundMessage is one delivery from the stream. It is owned by a single
// pipeline invocation and never mutated.
type InboundMessage struct {
	Payload  []byte         `json:"payload"`
	Metadata StreamMetadata `json:"metadata"`
}

// Record is a decoded JSON object. Values keep their JSON shape; numbers are
// json.Number so caller data round-trips without float conversion.
type Record map[string]any

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r)+6)
	for k, v := range r {
		out[k] = v
	}
	return out
}

// ID returns the record id when it is a string.
func (r Record) ID() string {
	id, _ := r[FieldID].(string)
	return id
}
