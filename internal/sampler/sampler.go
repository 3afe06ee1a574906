// Package sampler produces test traffic for the ingestion stream: synthetic
// sensor readings, a malformed corpus, and messages loaded from sample files.
package sampler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"gopkg.in/yaml.v3"

	"github.com/telhawk-systems/eventsink/common/messaging"
	"github.com/telhawk-systems/eventsink/internal/models"
)

// Message is one payload to publish on a partition.
type Message struct {
	PartitionKey string
	Payload      []byte
}

// Malformed payloads that must all end as skipped outcomes.
var Malformed = []string{
	`{"id": "bad-1", "name": "Truncated"`,
	`[1, 2, 3]`,
	`"just a string"`,
	`42`,
	`null`,
	`not json at all`,
	`{"id": true, "name": "Boolean id"}`,
}

var (
	categories = []string{"temperature", "humidity", "pressure", "air-quality"}
	statuses   = []string{"online", "degraded", "maintenance"}
)

// Generator builds synthetic sensor readings.
type Generator struct {
	faker      *gofakeit.Faker
	partitions int
	now        func() time.Time
}

// NewGenerator creates a generator spreading messages over partitions.
// A zero seed picks a random one.
func NewGenerator(seed int64, partitions int) *Generator {
	if partitions <= 0 {
		partitions = 1
	}
	return &Generator{faker: gofakeit.New(seed), partitions: partitions, now: time.Now}
}

// Reading returns one sensor document.
func (g *Generator) Reading() map[string]any {
	id := "sensor-" + g.faker.UUID()[:8]
	category := g.faker.RandomString(categories)
	return map[string]any{
		"id":          id,
		"name":        fmt.Sprintf("%s sensor %s", category, g.faker.City()),
		"description": "Synthetic " + category + " reading",
		"category":    category,
		"data": map[string]any{
			"temperature": round(g.faker.Float64Range(-10, 40)),
			"humidity":    round(g.faker.Float64Range(10, 95)),
			"status":      g.faker.RandomString(statuses),
			"ip":          g.faker.IPv4Address(),
			"location": map[string]any{
				"lat": g.faker.Latitude(),
				"lon": g.faker.Longitude(),
			},
			"sent_at": g.now().UTC().Format(models.TimeFormat),
		},
	}
}

// Messages returns n readings assigned round-robin to partitions p0..pN.
func (g *Generator) Messages(n int) ([]Message, error) {
	out := make([]Message, 0, n)
	for i := 0; i < n; i++ {
		payload, err := json.Marshal(g.Reading())
		if err != nil {
			return nil, err
		}
		out = append(out, Message{PartitionKey: partition(i, g.partitions), Payload: payload})
	}
	return out, nil
}

// MalformedMessages wraps the malformed corpus in messages.
func MalformedMessages() []Message {
	out := make([]Message, len(Malformed))
	for i, p := range Malformed {
		out[i] = Message{PartitionKey: "p0", Payload: []byte(p)}
	}
	return out
}

// Custom wraps a caller supplied JSON document. It must be valid JSON.
func Custom(raw string) (Message, error) {
	if !json.Valid([]byte(raw)) {
		return Message{}, fmt.Errorf("custom message is not valid JSON")
	}
	return Message{PartitionKey: "p0", Payload: []byte(raw)}, nil
}

// File is the layout of a sample data file.
type File struct {
	Samples   []map[string]any `yaml:"sample_eventhub_messages"`
	Malformed []any            `yaml:"malformed_messages"`
}

// LoadFile reads a JSON or YAML sample file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sample file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse sample file: %w", err)
	}
	return &f, nil
}

// SampleMessages renders the file's well-formed samples.
func (f *File) SampleMessages() ([]Message, error) {
	out := make([]Message, 0, len(f.Samples))
	for i, s := range f.Samples {
		payload, err := json.Marshal(s)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		out = append(out, Message{PartitionKey: partition(i, 1), Payload: payload})
	}
	return out, nil
}

// MalformedMessages renders the file's malformed entries. Strings are sent
// verbatim; anything else is sent as its JSON encoding.
func (f *File) MalformedMessages() ([]Message, error) {
	out := make([]Message, 0, len(f.Malformed))
	for i, m := range f.Malformed {
		var payload []byte
		if s, ok := m.(string); ok {
			payload = []byte(s)
		} else {
			b, err := json.Marshal(m)
			if err != nil {
				return nil, fmt.Errorf("malformed %d: %w", i, err)
			}
			payload = b
		}
		out = append(out, Message{PartitionKey: "p0", Payload: payload})
	}
	return out, nil
}

// Sender publishes messages on eventsink.events.<partition>.
type Sender struct {
	publisher messaging.Publisher
}

func NewSender(p messaging.Publisher) *Sender {
	return &Sender{publisher: p}
}

// Send publishes msg and waits for the broker's acknowledgment.
func (s *Sender) Send(ctx context.Context, msg Message) error {
	return s.publisher.PublishMsg(ctx, &messaging.Message{
		Subject: messaging.EventSubject(msg.PartitionKey),
		Data:    msg.Payload,
		Headers: map[string]string{messaging.HeaderPartitionKey: msg.PartitionKey},
	})
}

// SendAll publishes msgs in order, pausing between each, and returns how
// many were sent before the first error.
func (s *Sender) SendAll(ctx context.Context, msgs []Message, pause time.Duration) (int, error) {
	for i, msg := range msgs {
		if i > 0 && pause > 0 {
			select {
			case <-ctx.Done():
				return i, ctx.Err()
			case <-time.After(pause):
			}
		}
		if err := s.Send(ctx, msg); err != nil {
			return i, fmt.Errorf("send message %d: %w", i+1, err)
		}
	}
	return len(msgs), nil
}

func partition(i, n int) string {
	return "p" + strconv.Itoa(i%n)
}

func round(f float64) float64 {
	return float64(int(f*100)) / 100
}
