package domain

import "time"

// RedialStatus represents the scheduling state of a phone number in the
// redial queue.
type RedialStatus string

const (
	RedialPending     RedialStatus = "PENDING"
	RedialRescheduled RedialStatus = "RESCHEDULED"
	RedialCompleted   RedialStatus = "COMPLETED"
	RedialMaxAttempts RedialStatus = "MAX_ATTEMPTS_REACHED"
	RedialPaused      RedialStatus = "PAUSED"
)

// IsTerminal returns true if no further scheduling is possible.
func (s RedialStatus) IsTerminal() bool {
	return s == RedialCompleted || s == RedialMaxAttempts
}

// OutcomeEntry is one historical call outcome for a redial record.
type OutcomeEntry struct {
	Code string    `json:"code"`
	At   time.Time `json:"at"`
}

// maxOutcomeHistory bounds the per-record outcome history.
const maxOutcomeHistory = 25

// RedialRecord is the durable retry state for one phone number. Records are
// keyed by normalized phone number and persisted in the monthly partition of
// their creation month.
type RedialRecord struct {
	Phone         string         `json:"phone"`
	LeadID        string         `json:"lead_id"`
	ListID        string         `json:"list_id,omitempty"`
	FirstName     string         `json:"first_name,omitempty"`
	LastName      string         `json:"last_name,omitempty"`
	Status        RedialStatus   `json:"status"`
	Attempts      int            `json:"attempts"`
	AttemptsToday int            `json:"attempts_today"`
	CreatedAt     time.Time      `json:"created_at"`
	LastAttemptAt *time.Time     `json:"last_attempt_at,omitempty"`
	NextEligible  time.Time      `json:"next_eligible"`
	LastOutcome   string         `json:"last_outcome,omitempty"`
	Outcomes      []OutcomeEntry `json:"outcomes,omitempty"`

	// ScheduledCallback overrides progressive backoff when the contact asked
	// to be called at a specific time.
	ScheduledCallback *time.Time `json:"scheduled_callback,omitempty"`

	// PausedReason is set while Status is PAUSED; PriorStatus is restored on
	// resume.
	PausedReason string       `json:"paused_reason,omitempty"`
	PriorStatus  RedialStatus `json:"prior_status,omitempty"`

	// LastCallID links the record to its most recent correlation-cache entry.
	LastCallID string `json:"last_call_id,omitempty"`

	Error string `json:"error,omitempty"`
}

// RecordOutcomeCode appends to the bounded outcome history and updates
// LastOutcome.
func (r *RedialRecord) RecordOutcomeCode(code string, at time.Time) {
	r.LastOutcome = code
	r.Outcomes = append(r.Outcomes, OutcomeEntry{Code: code, At: at})
	if len(r.Outcomes) > maxOutcomeHistory {
		r.Outcomes = r.Outcomes[len(r.Outcomes)-maxOutcomeHistory:]
	}
}

// Clone returns a deep copy so callers can inspect records without holding
// queue locks.
func (r *RedialRecord) Clone() *RedialRecord {
	cp := *r
	if r.LastAttemptAt != nil {
		t := *r.LastAttemptAt
		cp.LastAttemptAt = &t
	}
	if r.ScheduledCallback != nil {
		t := *r.ScheduledCallback
		cp.ScheduledCallback = &t
	}
	cp.Outcomes = append([]OutcomeEntry(nil), r.Outcomes...)
	return &cp
}
