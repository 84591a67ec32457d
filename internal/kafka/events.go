package kafka

import (
	"encoding/json"
	"fmt"
	"time"
)

// Topic names used by the dispatch core.
const (
	// TopicCompletions carries call-completion events from the telephony
	// provider bridge. Keyed by call ID.
	TopicCompletions = "calls.completions"

	// TopicDispositions carries resolved dispositions for downstream
	// consumers (CRM sync, reporting). Keyed by lead ID.
	TopicDispositions = "calls.dispositions"
)

// CompletionEvent is the payload on TopicCompletions. CallID and Outcome are
// required; CallbackAt is set only for scheduled-callback outcomes.
type CompletionEvent struct {
	CallID     string     `json:"call_id"`
	Outcome    string     `json:"outcome"`
	Error      string     `json:"error,omitempty"`
	CallbackAt *time.Time `json:"callback_at,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// DecodeCompletionEvent parses and validates a completion payload.
func DecodeCompletionEvent(data []byte) (*CompletionEvent, error) {
	var ev CompletionEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decode completion event: %w", err)
	}
	if ev.CallID == "" {
		return nil, fmt.Errorf("completion event missing call_id")
	}
	if ev.Outcome == "" {
		return nil, fmt.Errorf("completion event %s missing outcome", ev.CallID)
	}
	return &ev, nil
}

// DispositionEvent is published on TopicDispositions after a completion is
// reconciled against the redial queue.
type DispositionEvent struct {
	CallID     string    `json:"call_id"`
	LeadID     string    `json:"lead_id"`
	Phone      string    `json:"phone"`
	Outcome    string    `json:"outcome"`
	Attempts   int       `json:"attempts"`
	Terminal   bool      `json:"terminal"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// Encode serializes the event for publishing.
func (e *DispositionEvent) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode disposition event: %w", err)
	}
	return data, nil
}
