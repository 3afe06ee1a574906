// Package messaging provides broker-neutral message types and the subject
// layout used by eventsink.
package messaging

import "context"

// Message is an outbound message.
type Message struct {
	// Subject is the topic the message is published to.
	Subject string

	// Data is the raw message payload.
	Data []byte

	// Headers are optional key-value pairs sent with the message.
	Headers map[string]string
}

// Publisher publishes messages durably and waits for the broker's acknowledgment.
type Publisher interface {
	PublishMsg(ctx context.Context, msg *Message) error
}
