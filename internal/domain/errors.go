package domain

import "fmt"

// DuplicateCallError is returned when a call ID is registered twice while the
// first registration is still pending. This is a logic error, not a retry
// condition.
type DuplicateCallError struct {
	CallID string
}

func (e *DuplicateCallError) Error() string {
	return fmt.Sprintf("call already pending: %s", e.CallID)
}

// CallNotFoundError is returned when a call ID has no pending entry — either
// it never existed or it was already resolved (duplicate completion events
// land here and are ignored).
type CallNotFoundError struct {
	CallID string
}

func (e *CallNotFoundError) Error() string {
	return fmt.Sprintf("no pending call: %s", e.CallID)
}

// RecordNotFoundError is returned when a phone number has no redial record.
type RecordNotFoundError struct {
	Phone string
}

func (e *RecordNotFoundError) Error() string {
	return fmt.Sprintf("no redial record for %s", e.Phone)
}

// BlocklistedNumberError is returned when a blocklisted number is offered for
// scheduling.
type BlocklistedNumberError struct {
	Phone string
}

func (e *BlocklistedNumberError) Error() string {
	return fmt.Sprintf("number is blocklisted: %s", e.Phone)
}

// InvalidPhoneError is returned when a number fails normalization.
type InvalidPhoneError struct {
	Raw string
}

func (e *InvalidPhoneError) Error() string {
	return fmt.Sprintf("invalid phone number: %q", e.Raw)
}
