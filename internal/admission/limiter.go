// Package admission throttles outbound dispatch: a global calls-per-second
// limit plus a minimum re-contact interval per phone number. A denial is a
// scheduling decision, never an error — callers skip the candidate and leave
// it for the next tick.
package admission

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nbassil/dialdispatch/internal/policy"
)

// Denial reasons reported in Decision.Reason.
const (
	ReasonGlobalRate = "global_rate"
	ReasonSameNumber = "same_number_interval"
)

// Decision is the outcome of TryAcquire.
type Decision struct {
	Granted    bool
	Reason     string
	RetryAfter time.Duration
}

// pruneThreshold caps the per-number timestamp map before expired entries are
// dropped.
const pruneThreshold = 4096

// Limiter enforces both admission constraints in one atomic check-and-record
// step. Global spacing uses a token bucket with burst 1, so the permitted
// inter-dispatch gap is measured from elapsed time, not fixed windows — no
// boundary bursts.
type Limiter struct {
	mu           sync.Mutex
	pol          *policy.Store
	global       *rate.Limiter
	currentRate  float64
	lastByNumber map[string]time.Time
	now          func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// NewLimiter creates a Limiter reading its knobs from the shared policy
// store.
func NewLimiter(pol *policy.Store, opts ...Option) *Limiter {
	p := pol.Snapshot()
	l := &Limiter{
		pol:          pol,
		global:       rate.NewLimiter(rate.Limit(p.MaxCallsPerSecond), 1),
		currentRate:  p.MaxCallsPerSecond,
		lastByNumber: make(map[string]time.Time),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// TryAcquire decides whether a call to phone may be placed right now. On
// grant, both the global token and the per-number timestamp are recorded
// before returning — there is no gap between check and record, so two
// concurrent callers can never both be granted for the same capacity.
func (l *Limiter) TryAcquire(phone string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	p := l.pol.Snapshot()
	now := l.now()

	if p.MaxCallsPerSecond != l.currentRate {
		l.global.SetLimitAt(now, rate.Limit(p.MaxCallsPerSecond))
		l.currentRate = p.MaxCallsPerSecond
	}

	// Per-number spacing first: it does not consume a global token.
	if last, ok := l.lastByNumber[phone]; ok {
		if wait := p.SameNumberInterval - now.Sub(last); wait > 0 {
			return Decision{Reason: ReasonSameNumber, RetryAfter: wait}
		}
	}

	res := l.global.ReserveN(now, 1)
	if !res.OK() {
		return Decision{Reason: ReasonGlobalRate, RetryAfter: time.Second}
	}
	if delay := res.DelayFrom(now); delay > 0 {
		// Not admissible yet — hand the token back.
		res.CancelAt(now)
		return Decision{Reason: ReasonGlobalRate, RetryAfter: delay}
	}

	l.lastByNumber[phone] = now
	if len(l.lastByNumber) > pruneThreshold {
		l.prune(now, p.SameNumberInterval)
	}
	return Decision{Granted: true}
}

// TrackedNumbers returns how many numbers currently have a recorded last
// dispatch. Exposed on the stats surface.
func (l *Limiter) TrackedNumbers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lastByNumber)
}

func (l *Limiter) prune(now time.Time, interval time.Duration) {
	for phone, last := range l.lastByNumber {
		if now.Sub(last) >= interval {
			delete(l.lastByNumber, phone)
		}
	}
}
