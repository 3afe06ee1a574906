package messaging

import "strings"

// Subjects follow the pattern {service}.{kind}.{qualifier}.
const (
	// SubjectEvents is the root subject inbound device messages are published under.
	SubjectEvents = "eventsink.events"

	// SubjectDLQ is the root subject for dead-lettered messages.
	SubjectDLQ = "eventsink.dlq"
)

// Header names carried on inbound messages.
const (
	HeaderPartitionKey = "Partition-Key"
	HeaderContentType  = "Content-Type"
)

// EventSubject returns the subject for messages on a partition.
// Example: eventsink.events.p0
func EventSubject(partition string) string {
	return SubjectEvents + "." + token(partition)
}

// DLQSubject returns the dead-letter subject for a reason.
// Example: eventsink.dlq.malformed
func DLQSubject(reason string) string {
	if reason == "" {
		reason = "unknown"
	}
	return SubjectDLQ + "." + token(reason)
}

// token makes s safe for use as a single subject token.
func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}
