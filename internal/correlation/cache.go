// Package correlation tracks in-flight calls between dispatch and the
// provider's asynchronous completion event. Entries resolve exactly once —
// duplicate completion events are no-ops — and a staleness sweep converts
// calls that never hear back into failures so their numbers re-enter
// scheduling instead of hanging "in flight" forever.
package correlation

import (
	"sort"
	"sync"
	"time"

	"github.com/nbassil/dialdispatch/internal/domain"
)

// Cache is the in-memory correlation store. Safe for concurrent use; no
// method blocks on I/O, so sweeps never stall dispatch.
type Cache struct {
	mu      sync.Mutex
	byID    map[string]*domain.PendingCall
	byPhone map[string]string // normalized phone → pending call ID
	now     func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// NewCache creates an empty Cache.
func NewCache(opts ...Option) *Cache {
	c := &Cache{
		byID:    make(map[string]*domain.PendingCall),
		byPhone: make(map[string]string),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register stores a new pending call. Registering a call ID that is already
// pending is a logic error and returns DuplicateCallError.
func (c *Cache) Register(call domain.PendingCall) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.byID[call.CallID]; ok && existing.Status == domain.CallPending {
		return &domain.DuplicateCallError{CallID: call.CallID}
	}
	call.Status = domain.CallPending
	if call.CreatedAt.IsZero() {
		call.CreatedAt = c.now()
	}
	stored := call
	c.byID[call.CallID] = &stored
	c.byPhone[call.Phone] = call.CallID
	return nil
}

// Resolve settles a pending call with the given outcome. Idempotent:
// resolving an absent or already-resolved call returns CallNotFoundError and
// has no side effect.
func (c *Cache) Resolve(callID, outcome string) (*domain.PendingCall, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	call, ok := c.byID[callID]
	if !ok || call.Status != domain.CallPending {
		return nil, &domain.CallNotFoundError{CallID: callID}
	}
	now := c.now()
	call.Status = domain.CallCompleted
	call.Outcome = outcome
	call.ResolvedAt = &now
	c.dropPhoneIndex(call)

	cp := *call
	return &cp, nil
}

// PendingForNumber returns a copy of the pending call for the given
// normalized phone number, or nil. Backs the dispatcher's single-in-flight
// check.
func (c *Cache) PendingForNumber(phone string) *domain.PendingCall {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, ok := c.byPhone[phone]
	if !ok {
		return nil
	}
	call, ok := c.byID[id]
	if !ok || call.Status != domain.CallPending {
		return nil
	}
	cp := *call
	return &cp
}

// SweepStale fails every pending call older than maxAge and returns the
// swept entries so the caller can feed them back into scheduling.
func (c *Cache) SweepStale(maxAge time.Duration) []*domain.PendingCall {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	cutoff := now.Add(-maxAge)
	var swept []*domain.PendingCall
	for _, call := range c.byID {
		if call.Status != domain.CallPending || !call.CreatedAt.Before(cutoff) {
			continue
		}
		call.Status = domain.CallFailed
		call.Error = "no completion event before sweep timeout"
		call.Outcome = domain.OutcomeNoCompletion
		t := now
		call.ResolvedAt = &t
		c.dropPhoneIndex(call)
		cp := *call
		swept = append(swept, &cp)
	}
	return swept
}

// PurgeResolved removes resolved calls older than retention and returns how
// many were removed. Resolved entries are kept for the retention window so
// operators can inspect recent outcomes.
func (c *Cache) PurgeResolved(retention time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-retention)
	purged := 0
	for id, call := range c.byID {
		if call.Status == domain.CallPending {
			continue
		}
		if call.ResolvedAt != nil && call.ResolvedAt.Before(cutoff) {
			delete(c.byID, id)
			purged++
		}
	}
	return purged
}

// Pending returns copies of all pending calls, oldest first.
func (c *Cache) Pending() []*domain.PendingCall {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*domain.PendingCall
	for _, call := range c.byID {
		if call.Status == domain.CallPending {
			cp := *call
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Counts returns the number of pending and resolved entries.
func (c *Cache) Counts() (pending, resolved int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, call := range c.byID {
		if call.Status == domain.CallPending {
			pending++
		} else {
			resolved++
		}
	}
	return pending, resolved
}

// dropPhoneIndex removes the phone→ID mapping if it still points at this
// call. Must hold c.mu.
func (c *Cache) dropPhoneIndex(call *domain.PendingCall) {
	if id, ok := c.byPhone[call.Phone]; ok && id == call.CallID {
		delete(c.byPhone, call.Phone)
	}
}
