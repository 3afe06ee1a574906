package models

import "encoding/json"

// OutcomeKind enumerates the terminal states of one ingestion call.
type OutcomeKind int

const (
	OutcomeCreated OutcomeKind = iota + 1
	OutcomeUpdated
	OutcomeSkipped
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeCreated:
		return "created"
	case OutcomeUpdated:
		return "updated"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Reason qualifies Skipped and Failed outcomes.
type Reason string

const (
	ReasonNone      Reason = ""
	ReasonMalformed Reason = "malformed"
	ReasonTransient Reason = "transient"
	ReasonPermanent Reason = "permanent"
)

// Outcome is produced exactly once per InboundMessage.
type Outcome struct {
	Kind   OutcomeKind
	ID     string
	Reason Reason
	// Detail is a human readable cause for Skipped and Failed outcomes.
	Detail string
	// Attempts counts store calls made for this message.
	Attempts  int
	Generated bool
}

func Created(id string, attempts int) Outcome {
	return Outcome{Kind: OutcomeCreated, ID: id, Attempts: attempts}
}

func Updated(id string, attempts int) Outcome {
	return Outcome{Kind: OutcomeUpdated, ID: id, Attempts: attempts}
}

func Skipped(reason Reason, detail string) Outcome {
	return Outcome{Kind: OutcomeSkipped, Reason: reason, Detail: detail}
}

func Failed(id string, reason Reason, detail string, attempts int) Outcome {
	return Outcome{Kind: OutcomeFailed, ID: id, Reason: reason, Detail: detail, Attempts: attempts}
}

// Transient reports whether the outcome is a failure the caller may redeliver.
func (o Outcome) Transient() bool {
	return o.Kind == OutcomeFailed && o.Reason == ReasonTransient
}

// MarshalJSON renders the outcome for the HTTP surface and the dead-letter sink.
func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Outcome   string `json:"outcome"`
		ID        string `json:"id,omitempty"`
		Reason    string `json:"reason,omitempty"`
		Detail    string `json:"detail,omitempty"`
		Attempts  int    `json:"attempts"`
		Generated bool   `json:"generated_id,omitempty"`
	}{
		Outcome:   o.Kind.String(),
		ID:        o.ID,
		Reason:    string(o.Reason),
		Detail:    o.Detail,
		Attempts:  o.Attempts,
		Generated: o.Generated,
	})
}
