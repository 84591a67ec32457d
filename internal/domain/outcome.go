package domain

// Well-known outcome codes delivered by the provider's completion events.
// The set is open: unknown codes are treated as non-terminal failures so a
// new provider disposition never strands a number.
const (
	OutcomeSale           = "SALE"
	OutcomeDoNotCall      = "DO_NOT_CALL"
	OutcomeDeclined       = "DECLINED"
	OutcomeAlreadyCovered = "ALREADY_COVERED"
	OutcomeCallback       = "CALLBACK_SCHEDULED"
	OutcomeNoAnswer       = "NO_ANSWER"
	OutcomeBusy           = "BUSY"
	OutcomeVoicemail      = "VOICEMAIL"
	OutcomeFailed         = "FAILED"

	// OutcomeNoCompletion is synthesized by the staleness sweep when a call
	// never receives a completion event.
	OutcomeNoCompletion = "NO_COMPLETION"
)

// OutcomeClass categorizes an outcome code for scheduling decisions.
type OutcomeClass int

const (
	// OutcomeRetry re-enters progressive backoff.
	OutcomeRetry OutcomeClass = iota
	// OutcomeTerminal permanently stops scheduling (sale, do-not-call,
	// explicit decline). Terminal is a completion path, not an error.
	OutcomeTerminal
	// OutcomeScheduled reschedules at a contact-chosen callback time.
	OutcomeScheduled
)

// ClassifyOutcome maps an outcome code to its scheduling class.
func ClassifyOutcome(code string) OutcomeClass {
	switch code {
	case OutcomeSale, OutcomeDoNotCall, OutcomeDeclined, OutcomeAlreadyCovered:
		return OutcomeTerminal
	case OutcomeCallback:
		return OutcomeScheduled
	default:
		return OutcomeRetry
	}
}

// IsConnectFailure reports whether the outcome suggests the caller identity
// did not get through (feeds the identity pool's failure window). Terminal
// outcomes and callbacks mean a human answered, so they never count against
// the identity.
func IsConnectFailure(code string) bool {
	switch code {
	case OutcomeNoAnswer, OutcomeBusy, OutcomeVoicemail, OutcomeFailed, OutcomeNoCompletion:
		return true
	default:
		return ClassifyOutcome(code) == OutcomeRetry
	}
}
