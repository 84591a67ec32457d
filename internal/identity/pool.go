// Package identity manages the rotating set of outbound caller IDs. Entries
// accumulate failure samples in a rolling window; an entry that fails too
// often is cooled down so a burned number stops depressing answer rates.
package identity

import (
	"errors"
	"sync"
	"time"

	"github.com/nbassil/dialdispatch/internal/policy"
)

// ErrEmptyPool is returned by Select when no identities are configured.
var ErrEmptyPool = errors.New("identity: pool is empty")

type sample struct {
	at     time.Time
	failed bool
}

type entry struct {
	token         string
	samples       []sample
	cooldownUntil time.Time
	lastUsed      time.Time
}

// windowFailures counts failed samples newer than cutoff. Samples are
// trimmed on every write so the slice stays small.
func (e *entry) windowFailures(cutoff time.Time) int {
	n := 0
	for _, s := range e.samples {
		if s.failed && s.at.After(cutoff) {
			n++
		}
	}
	return n
}

func (e *entry) trim(cutoff time.Time) {
	keep := e.samples[:0]
	for _, s := range e.samples {
		if s.at.After(cutoff) {
			keep = append(keep, s)
		}
	}
	e.samples = keep
}

type leadRef struct {
	token   string
	expires time.Time
}

// EntryStats is a read-only view of one pool entry for the stats surface.
type EntryStats struct {
	Token          string     `json:"token"`
	WindowAttempts int        `json:"window_attempts"`
	WindowFailures int        `json:"window_failures"`
	CooldownUntil  *time.Time `json:"cooldown_until,omitempty"`
	LastUsed       *time.Time `json:"last_used,omitempty"`
}

// Pool selects caller identities and tracks their recent outcomes. All state
// mutation goes through Select, RecordLeadMapping and RecordOutcome — the
// counters are never read-modify-written from outside.
type Pool struct {
	mu      sync.Mutex
	pol     *policy.Store
	entries []*entry
	byToken map[string]*entry
	leads   map[string]leadRef
	now     func() time.Time
}

// Option configures a Pool.
type Option func(*Pool)

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// NewPool creates a Pool over the given identity tokens (caller ID numbers).
func NewPool(pol *policy.Store, tokens []string, opts ...Option) *Pool {
	p := &Pool{
		pol:     pol,
		byToken: make(map[string]*entry, len(tokens)),
		leads:   make(map[string]leadRef),
		now:     time.Now,
	}
	for _, tok := range tokens {
		e := &entry{token: tok}
		p.entries = append(p.entries, e)
		p.byToken[tok] = e
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Select picks the identity to use for the given lead. Preference order:
// the identity that previously called this lead (continuity), then any
// non-cooled entry least recently used. If every entry is cooled the one
// with the earliest cooldown expiry is returned — selection never blocks.
// excluding removes one token from consideration (e.g. the identity that
// just failed for this number).
func (p *Pool) Select(leadID, excluding string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.entries) == 0 {
		return "", ErrEmptyPool
	}
	now := p.now()

	// Lead continuity: reuse the prior identity unless cooled or excluded.
	if leadID != "" {
		if ref, ok := p.leads[leadID]; ok {
			if now.After(ref.expires) {
				delete(p.leads, leadID)
			} else if ref.token != excluding {
				if e, ok := p.byToken[ref.token]; ok && !e.cooldownUntil.After(now) {
					e.lastUsed = now
					return e.token, nil
				}
			}
		}
	}

	var best *entry
	for _, e := range p.entries {
		if e.token == excluding || e.cooldownUntil.After(now) {
			continue
		}
		if best == nil || e.lastUsed.Before(best.lastUsed) {
			best = e
		}
	}

	if best == nil {
		// Exhaustion fallback: everything is cooling — take whichever thaws
		// first.
		for _, e := range p.entries {
			if e.token == excluding && len(p.entries) > 1 {
				continue
			}
			if best == nil || e.cooldownUntil.Before(best.cooldownUntil) {
				best = e
			}
		}
	}

	best.lastUsed = now
	return best.token, nil
}

// RecordLeadMapping remembers which identity called a lead so repeat contact
// prefers the same caller ID. The mapping expires after the configured
// affinity TTL.
func (p *Pool) RecordLeadMapping(leadID, token string) {
	if leadID == "" || token == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	ttl := p.pol.Snapshot().LeadAffinityTTL
	p.leads[leadID] = leadRef{token: token, expires: now.Add(ttl)}
	if len(p.leads) > 10000 {
		for id, ref := range p.leads {
			if now.After(ref.expires) {
				delete(p.leads, id)
			}
		}
	}
}

// RecordOutcome feeds one call result back into the rolling window. Crossing
// the failure threshold within the window starts a cooldown; the pool then
// reinstates the least-failing cooled entries if the minimum-available
// invariant would be violated.
func (p *Pool) RecordOutcome(token string, failed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.byToken[token]
	if !ok {
		return
	}
	pol := p.pol.Snapshot()
	now := p.now()
	cutoff := now.Add(-pol.IdentityWindow)

	e.trim(cutoff)
	e.samples = append(e.samples, sample{at: now, failed: failed})

	if failed && e.windowFailures(cutoff) >= pol.CooldownThreshold {
		e.cooldownUntil = now.Add(pol.CooldownPeriod)
	}

	p.enforceMinAvailable(now, cutoff, pol.MinAvailable)
}

// enforceMinAvailable reinstates cooled entries, least window failures
// first, until at least min entries are selectable (when pool size allows).
func (p *Pool) enforceMinAvailable(now, cutoff time.Time, min int) {
	if min <= 0 || len(p.entries) < min {
		return
	}
	available := 0
	for _, e := range p.entries {
		if !e.cooldownUntil.After(now) {
			available++
		}
	}
	for available < min {
		var candidate *entry
		for _, e := range p.entries {
			if !e.cooldownUntil.After(now) {
				continue
			}
			if candidate == nil || e.windowFailures(cutoff) < candidate.windowFailures(cutoff) {
				candidate = e
			}
		}
		if candidate == nil {
			return
		}
		candidate.cooldownUntil = time.Time{}
		available++
	}
}

// Stats returns a point-in-time view of every entry.
func (p *Pool) Stats() []EntryStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := p.now().Add(-p.pol.Snapshot().IdentityWindow)
	out := make([]EntryStats, 0, len(p.entries))
	for _, e := range p.entries {
		st := EntryStats{
			Token:          e.token,
			WindowFailures: e.windowFailures(cutoff),
		}
		for _, s := range e.samples {
			if s.at.After(cutoff) {
				st.WindowAttempts++
			}
		}
		if !e.cooldownUntil.IsZero() {
			t := e.cooldownUntil
			st.CooldownUntil = &t
		}
		if !e.lastUsed.IsZero() {
			t := e.lastUsed
			st.LastUsed = &t
		}
		out = append(out, st)
	}
	return out
}
