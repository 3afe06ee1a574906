package logging

import "log/slog"

// Common field names for consistent logging across the pipeline.
const (
	FieldService   = "service"
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldDuration  = "duration_ms"
	FieldError     = "error"
	FieldRecordID  = "record_id"
	FieldPartition = "partition_key"
	FieldSequence  = "sequence_number"
	FieldOutcome   = "outcome"
	FieldReason    = "reason"
	FieldAttempt   = "attempt"
	FieldOp        = "op"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// Method returns a slog attribute for the HTTP method.
func Method(method string) slog.Attr {
	return slog.String(FieldMethod, method)
}

// Path returns a slog attribute for the HTTP path.
func Path(path string) slog.Attr {
	return slog.String(FieldPath, path)
}

// Status returns a slog attribute for the HTTP status code.
func Status(code int) slog.Attr {
	return slog.Int(FieldStatus, code)
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	return slog.String(FieldError, err.Error())
}

// RecordID returns a slog attribute for a record id.
func RecordID(id string) slog.Attr {
	return slog.String(FieldRecordID, id)
}

// Partition returns a slog attribute for a stream partition key.
func Partition(key string) slog.Attr {
	return slog.String(FieldPartition, key)
}

// Sequence returns a slog attribute for a stream sequence number.
func Sequence(n int64) slog.Attr {
	return slog.Int64(FieldSequence, n)
}

// Outcome returns a slog attribute for an outcome kind.
func Outcome(kind string) slog.Attr {
	return slog.String(FieldOutcome, kind)
}

// Reason returns a slog attribute for an outcome reason.
func Reason(reason string) slog.Attr {
	return slog.String(FieldReason, reason)
}

// Attempt returns a slog attribute for a store attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int(FieldAttempt, n)
}

// Op returns a slog attribute for a store operation.
func Op(op string) slog.Attr {
	return slog.String(FieldOp, op)
}
