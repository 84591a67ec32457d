// Package redial is the durable retry scheduler: one record per phone
// number, progressive backoff between attempts, daily and lifetime attempt
// caps, and monthly partitioned persistence.
package redial

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nbassil/dialdispatch/internal/domain"
	"github.com/nbassil/dialdispatch/internal/policy"
)

// Context carries the lead fields attached to a record when it is created or
// refreshed.
type Context struct {
	LeadID    string
	ListID    string
	FirstName string
	LastName  string
}

// Stats summarizes the queue for the operator surface.
type Stats struct {
	ByStatus    map[domain.RedialStatus]int `json:"by_status"`
	EligibleNow int                         `json:"eligible_now"`
	Blocklisted int                         `json:"blocklisted"`
	Total       int                         `json:"total"`
}

// Queue holds the in-memory index over persisted redial records. All writes
// go through the Queue, which serializes them onto the single-writer store.
// Store failures are logged and never abort the in-memory transition.
type Queue struct {
	mu        sync.Mutex
	pol       *policy.Store
	store     Store
	records   map[string]*domain.RedialRecord
	blocklist map[string]bool
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// NewQueue loads the active partitions and builds the phone-number index.
func NewQueue(pol *policy.Store, store Store, logger *slog.Logger, opts ...Option) (*Queue, error) {
	q := &Queue{
		pol:       pol,
		store:     store,
		records:   make(map[string]*domain.RedialRecord),
		blocklist: make(map[string]bool),
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	records, blocklist, err := store.Load(q.now())
	if err != nil {
		return nil, err
	}
	q.records = records
	q.blocklist = blocklist
	return q, nil
}

// Ensure returns the record for phone, creating a pending one if absent.
// Lead fields are refreshed on every call. Blocklisted numbers are rejected.
func (q *Queue) Ensure(phone string, ctx Context) (*domain.RedialRecord, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.blocklist[phone] {
		return nil, &domain.BlocklistedNumberError{Phone: phone}
	}
	rec, ok := q.records[phone]
	if !ok {
		now := q.now()
		rec = &domain.RedialRecord{
			Phone:        phone,
			Status:       domain.RedialPending,
			CreatedAt:    now,
			NextEligible: now,
		}
		q.records[phone] = rec
	}
	if ctx.LeadID != "" {
		rec.LeadID = ctx.LeadID
	}
	if ctx.ListID != "" {
		rec.ListID = ctx.ListID
	}
	if ctx.FirstName != "" {
		rec.FirstName = ctx.FirstName
	}
	if ctx.LastName != "" {
		rec.LastName = ctx.LastName
	}
	q.persist(rec)
	return rec.Clone(), nil
}

// Eligible returns up to limit records due for dispatch at now: pending or
// rescheduled, next-eligible reached, daily attempts remaining. Ordered by
// next-eligible ascending so a partially processed batch resumes where the
// previous tick left off instead of starving old records.
func (q *Queue) Eligible(now time.Time, limit int) []*domain.RedialRecord {
	p := q.pol.Snapshot()

	q.mu.Lock()
	defer q.mu.Unlock()

	var due []*domain.RedialRecord
	for _, rec := range q.records {
		if rec.Status != domain.RedialPending && rec.Status != domain.RedialRescheduled {
			continue
		}
		if rec.NextEligible.After(now) {
			continue
		}
		if rec.AttemptsToday >= p.MaxDailyAttempts {
			continue
		}
		due = append(due, rec)
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].NextEligible.Equal(due[j].NextEligible) {
			return due[i].Phone < due[j].Phone
		}
		return due[i].NextEligible.Before(due[j].NextEligible)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]*domain.RedialRecord, len(due))
	for i, rec := range due {
		out[i] = rec.Clone()
	}
	return out
}

// MarkDispatched increments the attempt counters at dispatch time — before
// the completion event — so a restart between dispatch and completion cannot
// re-dispatch the same record without bound. Scheduling is reconciled later
// by RecordOutcome.
func (q *Queue) MarkDispatched(phone, callID string, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	rec, ok := q.records[phone]
	if !ok {
		return &domain.RecordNotFoundError{Phone: phone}
	}
	rec.Attempts++
	rec.AttemptsToday++
	t := at
	rec.LastAttemptAt = &t
	rec.LastCallID = callID
	if rec.NextEligible.Before(at) {
		rec.NextEligible = at
	}
	q.persist(rec)
	return nil
}

// RecordOutcome applies a completion outcome to the record's schedule.
// Terminal outcomes complete the record permanently. A scheduled callback
// overrides progressive backoff. Anything else advances the progressive
// interval table, clamped to business hours and the attempt caps. A record
// paused while its call was in flight keeps PAUSED for non-terminal
// outcomes; the computed state lands in PriorStatus for Resume.
func (q *Queue) RecordOutcome(phone, code string, callbackAt *time.Time) error {
	p := q.pol.Snapshot()

	q.mu.Lock()
	defer q.mu.Unlock()

	rec, ok := q.records[phone]
	if !ok {
		return &domain.RecordNotFoundError{Phone: phone}
	}
	now := q.now()
	rec.RecordOutcomeCode(code, now)

	switch domain.ClassifyOutcome(code) {
	case domain.OutcomeTerminal:
		// Completed records never reopen automatically, paused or not.
		rec.Status = domain.RedialCompleted
		rec.PriorStatus = ""
		rec.PausedReason = ""
		rec.ScheduledCallback = nil

	case domain.OutcomeScheduled:
		when := now.Add(p.Interval(rec.Attempts))
		if callbackAt != nil {
			when = *callbackAt
		}
		// A callback in the past cannot schedule before the attempt it
		// follows.
		if rec.LastAttemptAt != nil && when.Before(*rec.LastAttemptAt) {
			when = *rec.LastAttemptAt
		}
		cb := when
		rec.ScheduledCallback = &cb
		rec.NextEligible = when
		setScheduleStatus(rec, domain.RedialRescheduled)

	default:
		base := now
		if rec.LastAttemptAt != nil {
			base = *rec.LastAttemptAt
		}
		next := base.Add(p.Interval(rec.Attempts))
		if !p.Hours.IsActive(next) {
			next = p.Hours.NextActiveTime(next)
		}
		rec.NextEligible = next
		rec.ScheduledCallback = nil
		if rec.Attempts >= p.MaxAttempts || rec.AttemptsToday >= p.MaxDailyAttempts {
			setScheduleStatus(rec, domain.RedialMaxAttempts)
		} else {
			setScheduleStatus(rec, domain.RedialRescheduled)
		}
	}
	q.persist(rec)
	return nil
}

// setScheduleStatus applies a scheduling transition. A paused record keeps
// its PAUSED status; the transition lands in PriorStatus so Resume restores
// the state the record would otherwise be in.
func setScheduleStatus(rec *domain.RedialRecord, status domain.RedialStatus) {
	if rec.Status == domain.RedialPaused {
		rec.PriorStatus = status
		return
	}
	rec.Status = status
}

// Pause suspends scheduling for a number. The prior status is restored on
// Resume. Terminal records cannot be paused.
func (q *Queue) Pause(phone, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	rec, ok := q.records[phone]
	if !ok {
		return &domain.RecordNotFoundError{Phone: phone}
	}
	if rec.Status.IsTerminal() || rec.Status == domain.RedialPaused {
		return nil
	}
	rec.PriorStatus = rec.Status
	rec.Status = domain.RedialPaused
	rec.PausedReason = reason
	q.persist(rec)
	return nil
}

// Resume returns a paused record to its prior state.
func (q *Queue) Resume(phone string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	rec, ok := q.records[phone]
	if !ok {
		return &domain.RecordNotFoundError{Phone: phone}
	}
	if rec.Status != domain.RedialPaused {
		return nil
	}
	prior := rec.PriorStatus
	if prior == "" {
		prior = domain.RedialPending
	}
	rec.Status = prior
	rec.PriorStatus = ""
	rec.PausedReason = ""
	q.persist(rec)
	return nil
}

// Remove hard-deletes a record (compliance takedown).
func (q *Queue) Remove(phone string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	rec, ok := q.records[phone]
	if !ok {
		return &domain.RecordNotFoundError{Phone: phone}
	}
	delete(q.records, phone)
	if err := q.store.Delete(rec); err != nil {
		q.logger.Error("failed to delete redial record",
			slog.String("phone", phone),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// Blocklist removes the number and permanently refuses future scheduling for
// it. Used when the placement client reports a permanent rejection.
func (q *Queue) Blocklist(phone string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if rec, ok := q.records[phone]; ok {
		delete(q.records, phone)
		if err := q.store.Delete(rec); err != nil {
			q.logger.Error("failed to delete blocklisted record",
				slog.String("phone", phone),
				slog.String("error", err.Error()),
			)
		}
	}
	q.blocklist[phone] = true
	q.persistBlocklist()
}

// IsBlocklisted reports whether a number is permanently excluded.
func (q *Queue) IsBlocklisted(phone string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.blocklist[phone]
}

// ResetDailyCounters zeroes every per-day attempt counter and reopens
// records that were parked only by the daily cap. Runs at local midnight.
// Lifetime attempt counts are unchanged.
func (q *Queue) ResetDailyCounters() int {
	p := q.pol.Snapshot()

	q.mu.Lock()
	defer q.mu.Unlock()

	reset := 0
	for _, rec := range q.records {
		changed := false
		if rec.AttemptsToday != 0 {
			rec.AttemptsToday = 0
			changed = true
		}
		if rec.Status == domain.RedialMaxAttempts && rec.Attempts < p.MaxAttempts {
			rec.Status = domain.RedialRescheduled
			changed = true
		}
		if changed {
			q.persist(rec)
			reset++
		}
	}
	return reset
}

// Get returns a copy of the record for phone.
func (q *Queue) Get(phone string) (*domain.RedialRecord, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	rec, ok := q.records[phone]
	if !ok {
		return nil, &domain.RecordNotFoundError{Phone: phone}
	}
	return rec.Clone(), nil
}

// List returns copies of records, optionally filtered by status, ordered by
// next-eligible ascending.
func (q *Queue) List(status domain.RedialStatus, limit int) []*domain.RedialRecord {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*domain.RedialRecord
	for _, rec := range q.records {
		if status != "" && rec.Status != status {
			continue
		}
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextEligible.Before(out[j].NextEligible) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// QueueStats returns counts by status plus how many records are due now.
func (q *Queue) QueueStats() Stats {
	p := q.pol.Snapshot()
	now := q.now()

	q.mu.Lock()
	defer q.mu.Unlock()

	st := Stats{ByStatus: make(map[domain.RedialStatus]int), Blocklisted: len(q.blocklist)}
	for _, rec := range q.records {
		st.Total++
		st.ByStatus[rec.Status]++
		if (rec.Status == domain.RedialPending || rec.Status == domain.RedialRescheduled) &&
			!rec.NextEligible.After(now) && rec.AttemptsToday < p.MaxDailyAttempts {
			st.EligibleNow++
		}
	}
	return st
}

// persist writes the record through the store; failures are logged, never
// propagated — a persistence hiccup must not abort record processing.
func (q *Queue) persist(rec *domain.RedialRecord) {
	if err := q.store.Save(rec); err != nil {
		q.logger.Error("failed to persist redial record",
			slog.String("phone", rec.Phone),
			slog.String("error", err.Error()),
		)
	}
}

func (q *Queue) persistBlocklist() {
	numbers := make([]string, 0, len(q.blocklist))
	for n := range q.blocklist {
		numbers = append(numbers, n)
	}
	if err := q.store.SaveBlocklist(numbers); err != nil {
		q.logger.Error("failed to persist blocklist", slog.String("error", err.Error()))
	}
}
