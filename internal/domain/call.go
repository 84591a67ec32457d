package domain

import "time"

// CallStatus represents the states an in-flight call can be in.
type CallStatus string

const (
	CallPending   CallStatus = "PENDING"
	CallCompleted CallStatus = "COMPLETED"
	CallFailed    CallStatus = "FAILED"
)

// IsResolved returns true once a completion event or staleness sweep has
// settled the call.
func (s CallStatus) IsResolved() bool {
	return s == CallCompleted || s == CallFailed
}

// PendingCall is a correlation-cache entry: one outbound call that has been
// placed with the provider and is awaiting its asynchronous completion event.
// Call IDs are assigned by the provider and are never reused.
type PendingCall struct {
	CallID     string     `json:"call_id"`
	RequestID  string     `json:"request_id"`
	LeadID     string     `json:"lead_id"`
	Phone      string     `json:"phone"`
	FirstName  string     `json:"first_name,omitempty"`
	LastName   string     `json:"last_name,omitempty"`
	ListID     string     `json:"list_id,omitempty"`
	Identity   string     `json:"identity,omitempty"`
	Status     CallStatus `json:"status"`
	Outcome    string     `json:"outcome,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}
