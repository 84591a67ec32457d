package domain

import "strings"

// NormalizePhone reduces a phone number to a canonical digits-only form with
// a leading country code (US-defaulted 10-digit numbers get a "1" prefix).
// All queue keys, cache indices and limiter entries use the normalized form
// so the same number never appears under two spellings.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 10 {
		return "1" + digits
	}
	return digits
}

// ValidPhone reports whether a normalized number has a plausible length.
func ValidPhone(normalized string) bool {
	return len(normalized) >= 10 && len(normalized) <= 15
}
