// Package identity derives the stable document key for a record.
package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/telhawk-systems/eventsink/internal/models"
)

// ErrInvalidID is returned when a caller-supplied id cannot be used as a key.
var ErrInvalidID = errors.New("invalid record id")

const (
	idPrefix     = "eh"
	namePrefix   = "EventHub Message "
	compactStamp = "20060102150405"
)

// Resolve makes sure rec carries a non-empty string id and a name.
// It returns a copy of rec and whether the id was generated. The id is a pure
// function of (partition key, sequence number, now).
func Resolve(rec models.Record, md models.StreamMetadata, now time.Time) (models.Record, bool, error) {
	out := rec.Clone()
	generated := false

	id := out[models.FieldID]
	if empty(id) {
		out[models.FieldID] = GenerateID(md, now)
		generated = true
	} else {
		switch v := id.(type) {
		case string:
		case json.Number:
			out[models.FieldID] = v.String()
		default:
			return nil, false, fmt.Errorf("%w: unsupported type %T", ErrInvalidID, id)
		}
	}

	if _, ok := out[models.FieldName]; !ok {
		out[models.FieldName] = namePrefix + out.ID()
	}
	return out, generated, nil
}

// empty reports whether a caller-supplied id counts as absent: null, false,
// zero, "", [] and {}.
func empty(id any) bool {
	switch v := id.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case bool:
		return !v
	case json.Number:
		f, err := v.Float64()
		return err == nil && f == 0
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	default:
		return false
	}
}

// GenerateID builds "eh-<partition>-<sequence>-<yyyymmddHHMMSSffffff>" in UTC.
func GenerateID(md models.StreamMetadata, now time.Time) string {
	return fmt.Sprintf("%s-%s-%d-%s", idPrefix, md.PartitionKey, md.SequenceNumber, Timestamp(now))
}

// Timestamp renders now as a compact numeric UTC stamp with microseconds.
func Timestamp(now time.Time) string {
	now = now.UTC()
	return fmt.Sprintf("%s%06d", now.Format(compactStamp), now.Nanosecond()/int(time.Microsecond))
}
