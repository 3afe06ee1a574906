// Package decoder turns raw stream payloads into records.
package decoder

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/telhawk-systems/eventsink/internal/models"
)

var (
	// ErrMalformed is returned when the payload is not valid JSON.
	ErrMalformed = errors.New("malformed payload")
	// ErrNotAnObject is returned when the payload is valid JSON but not an object.
	ErrNotAnObject = errors.New("payload is not a JSON object")
)

// Decode parses payload as a single JSON object.
// Payloads must be valid UTF-8; encoding/json would otherwise substitute U+FFFD
// and collapse distinct ids onto one key.
func Decode(payload []byte) (models.Record, error) {
	if !utf8.Valid(payload) {
		return nil, fmt.Errorf("%w: invalid UTF-8", ErrMalformed)
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	// Trailing data after the first value is a syntax error, not a second message.
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: unexpected data after top-level value", ErrMalformed)
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: got %s", ErrNotAnObject, jsonKind(v))
	}
	return models.Record(obj), nil
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "array"
	case string:
		return "string"
	case json.Number:
		return "number"
	case bool:
		return "boolean"
	default:
		return fmt.Sprintf("%T", v)
	}
}
