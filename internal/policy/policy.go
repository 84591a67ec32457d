// Package policy holds the runtime-mutable scheduling knobs. A single Store
// is constructed at process start, seeded from configuration, and shared by
// the dispatcher, queue, limiter and identity pool. The operator config API
// mutates it through Update; everything else reads consistent snapshots.
package policy

import (
	"fmt"
	"sync"
	"time"

	"github.com/nbassil/dialdispatch/internal/hours"
)

// Policy is the full set of numeric scheduling knobs.
type Policy struct {
	// Redial progression.
	MaxAttempts          int             `json:"max_attempts"`
	MaxDailyAttempts     int             `json:"max_daily_attempts"`
	ProgressiveIntervals []time.Duration `json:"progressive_intervals"`

	// Admission.
	MaxCallsPerSecond  float64       `json:"max_calls_per_second"`
	SameNumberInterval time.Duration `json:"same_number_interval"`

	// Dispatcher.
	TickInterval time.Duration `json:"tick_interval"`
	BatchSize    int           `json:"batch_size"`

	// Identity pool.
	IdentityWindow    time.Duration `json:"identity_window"`
	CooldownThreshold int           `json:"cooldown_threshold"`
	CooldownPeriod    time.Duration `json:"cooldown_period"`
	MinAvailable      int           `json:"min_available"`
	LeadAffinityTTL   time.Duration `json:"lead_affinity_ttl"`

	// Correlation cache.
	StaleCallMaxAge   time.Duration `json:"stale_call_max_age"`
	SweepInterval     time.Duration `json:"sweep_interval"`
	ResolvedRetention time.Duration `json:"resolved_retention"`
	PurgeInterval     time.Duration `json:"purge_interval"`

	// Placement client transient retries (independent of redial backoff).
	PlacementAttempts  int           `json:"placement_attempts"`
	PlacementBaseDelay time.Duration `json:"placement_base_delay"`

	Hours hours.Config `json:"hours"`
}

// Default returns the policy used when no configuration overrides it.
func Default() Policy {
	return Policy{
		MaxAttempts:      12,
		MaxDailyAttempts: 3,
		ProgressiveIntervals: []time.Duration{
			0,
			30 * time.Minute,
			2 * time.Hour,
			4 * time.Hour,
			24 * time.Hour,
			48 * time.Hour,
			72 * time.Hour,
		},
		MaxCallsPerSecond:  2,
		SameNumberInterval: 4 * time.Hour,
		TickInterval:       30 * time.Minute,
		BatchSize:          50,
		IdentityWindow:     48 * time.Hour,
		CooldownThreshold:  20,
		CooldownPeriod:     2 * time.Hour,
		MinAvailable:       1,
		LeadAffinityTTL:    30 * 24 * time.Hour,
		StaleCallMaxAge:    30 * time.Minute,
		SweepInterval:      time.Minute,
		ResolvedRetention:  24 * time.Hour,
		PurgeInterval:      10 * time.Minute,
		PlacementAttempts:  3,
		PlacementBaseDelay: 2 * time.Second,
		Hours: hours.Config{
			Enabled:     true,
			Timezone:    "America/New_York",
			Weekdays:    []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
			StartMinute: 9 * 60,
			EndMinute:   20 * 60,
		},
	}
}

// Validate rejects values that would break scheduling invariants.
func (p Policy) Validate() error {
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("policy: max_attempts must be positive")
	}
	if p.MaxDailyAttempts <= 0 {
		return fmt.Errorf("policy: max_daily_attempts must be positive")
	}
	if len(p.ProgressiveIntervals) == 0 {
		return fmt.Errorf("policy: progressive_intervals must not be empty")
	}
	for i, d := range p.ProgressiveIntervals {
		if d < 0 {
			return fmt.Errorf("policy: progressive_intervals[%d] is negative", i)
		}
	}
	if p.MaxCallsPerSecond <= 0 {
		return fmt.Errorf("policy: max_calls_per_second must be positive")
	}
	if p.SameNumberInterval < 0 {
		return fmt.Errorf("policy: same_number_interval is negative")
	}
	if p.BatchSize <= 0 {
		return fmt.Errorf("policy: batch_size must be positive")
	}
	return p.Hours.Validate()
}

// Interval returns the progressive delay for the given attempt count,
// clamping past the end of the table. Deterministic: the same table and
// attempt count always yield the same delay.
func (p Policy) Interval(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts >= len(p.ProgressiveIntervals) {
		return p.ProgressiveIntervals[len(p.ProgressiveIntervals)-1]
	}
	return p.ProgressiveIntervals[attempts]
}

// Store is the shared, mutex-guarded policy holder.
type Store struct {
	mu sync.RWMutex
	p  Policy
}

// NewStore creates a Store with the given initial policy.
func NewStore(p Policy) *Store {
	return &Store{p: p}
}

// Snapshot returns a copy safe to read without locks. The interval table and
// blackout list are copied so an Update cannot mutate them under a reader.
func (s *Store) Snapshot() Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := s.p
	cp.ProgressiveIntervals = append([]time.Duration(nil), s.p.ProgressiveIntervals...)
	cp.Hours.Weekdays = append([]time.Weekday(nil), s.p.Hours.Weekdays...)
	cp.Hours.Blackouts = append([]string(nil), s.p.Hours.Blackouts...)
	return cp
}

// Update applies fn to the policy under the write lock. The mutation is
// rejected if the result fails validation.
func (s *Store) Update(fn func(*Policy)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.p
	next.ProgressiveIntervals = append([]time.Duration(nil), s.p.ProgressiveIntervals...)
	next.Hours.Weekdays = append([]time.Weekday(nil), s.p.Hours.Weekdays...)
	next.Hours.Blackouts = append([]string(nil), s.p.Hours.Blackouts...)
	fn(&next)
	if err := next.Validate(); err != nil {
		return err
	}
	s.p = next
	return nil
}
