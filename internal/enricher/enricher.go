// Package enricher attaches provenance metadata to records.
package enricher

import (
	"time"

	"github.com/telhawk-systems/eventsink/internal/models"
)

const (
	// ProcessedBy identifies this pipeline in stored documents.
	ProcessedBy = "ingestion-pipeline"
	// Source marks documents that arrived through the stream.
	Source = "eventhub"
)

// Enrich returns a copy of rec with the reserved provenance keys overwritten.
// Caller fields other than the reserved keys are left untouched.
// consumerGroup wins over md.ConsumerGroup when set.
func Enrich(rec models.Record, md models.StreamMetadata, consumerGroup string, now time.Time) models.Record {
	if consumerGroup == "" {
		consumerGroup = md.ConsumerGroup
	}

	var enqueued any
	if md.EnqueuedAt != nil {
		enqueued = md.EnqueuedAt.UTC().Format(models.TimeFormat)
	}

	out := rec.Clone()
	out[models.FieldMetadata] = map[string]any{
		"partition_key":   md.PartitionKey,
		"sequence_number": md.SequenceNumber,
		"offset":          md.Offset,
		"enqueued_time":   enqueued,
		"consumer_group":  consumerGroup,
	}
	out[models.FieldReceivedAt] = now.UTC().Format(models.TimeFormat)
	out[models.FieldProcessedBy] = ProcessedBy
	out[models.FieldSource] = Source
	return out
}
