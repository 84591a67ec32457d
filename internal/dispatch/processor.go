// Package dispatch drives the outbound pipeline: a periodic tick pulls
// eligible redial records, pushes them through the admission limiter and
// identity pool, places calls, and reconciles asynchronous completion events
// back into the schedule.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"

	"github.com/nbassil/dialdispatch/internal/admission"
	"github.com/nbassil/dialdispatch/internal/correlation"
	"github.com/nbassil/dialdispatch/internal/crm"
	"github.com/nbassil/dialdispatch/internal/dialer"
	"github.com/nbassil/dialdispatch/internal/domain"
	"github.com/nbassil/dialdispatch/internal/identity"
	"github.com/nbassil/dialdispatch/internal/kafka"
	"github.com/nbassil/dialdispatch/internal/policy"
	"github.com/nbassil/dialdispatch/internal/postgres"
	"github.com/nbassil/dialdispatch/internal/redial"
	redisstore "github.com/nbassil/dialdispatch/internal/redis"
	"github.com/nbassil/dialdispatch/pkg/retry"
	"github.com/nbassil/dialdispatch/pkg/telemetry"
)

// errBatchExhausted stops the current batch without failing the tick: the
// global rate has no capacity left, so the remaining candidates wait for the
// next pass.
var errBatchExhausted = errors.New("dispatch: global rate exhausted for this batch")

// Deps wires the processor's collaborators. Policy, Queue, Calls, Limiter,
// Identities, Placer and Logger are required; the rest are optional mirrors
// and side channels that degrade to no-ops when nil.
type Deps struct {
	Policy     *policy.Store
	Queue      *redial.Queue
	Calls      *correlation.Cache
	Limiter    *admission.Limiter
	Identities *identity.Pool
	Placer     dialer.PlacementClient
	Leads      crm.LeadClient
	Producer   kafka.Producer
	CallState  redisstore.CallStateStore
	Attempts   postgres.AttemptRepository
	Logger     *slog.Logger
}

// Processor owns the dispatch loop and the completion path. One instance per
// process; Run blocks until ctx is cancelled.
type Processor struct {
	deps Deps
	// enabled is flipped from HTTP handlers while the run loop reads it.
	enabled atomic.Bool
	trigger chan struct{}
	now     func() time.Time
}

// Option configures a Processor.
type Option func(*Processor)

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// NewProcessor validates the wiring and returns a stopped Processor.
func NewProcessor(deps Deps, opts ...Option) (*Processor, error) {
	switch {
	case deps.Policy == nil:
		return nil, fmt.Errorf("dispatch: policy store is required")
	case deps.Queue == nil:
		return nil, fmt.Errorf("dispatch: redial queue is required")
	case deps.Calls == nil:
		return nil, fmt.Errorf("dispatch: correlation cache is required")
	case deps.Limiter == nil:
		return nil, fmt.Errorf("dispatch: admission limiter is required")
	case deps.Identities == nil:
		return nil, fmt.Errorf("dispatch: identity pool is required")
	case deps.Placer == nil:
		return nil, fmt.Errorf("dispatch: placement client is required")
	case deps.Logger == nil:
		return nil, fmt.Errorf("dispatch: logger is required")
	}
	p := &Processor{
		deps:    deps,
		trigger: make(chan struct{}, 1),
		now:     time.Now,
	}
	p.enabled.Store(true)
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// SetEnabled turns automatic tick processing on or off. Manual dispatch and
// completion handling keep working while disabled.
func (p *Processor) SetEnabled(on bool) { p.enabled.Store(on) }

// Enabled reports whether automatic processing is on.
func (p *Processor) Enabled() bool { return p.enabled.Load() }

// Trigger requests an immediate processing pass without waiting for the next
// tick. Coalesces: multiple triggers before the pass runs collapse into one.
func (p *Processor) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Run starts the tick loop, the staleness sweep, the resolved-call purge and
// the midnight daily-counter reset. Blocks until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	pol := p.deps.Policy.Snapshot()

	tz := pol.Hours.Timezone
	resetCron, err := p.startResetCron(tz)
	if err != nil {
		return err
	}
	defer func() { resetCron.Stop() }()

	ticker := time.NewTicker(pol.TickInterval)
	defer ticker.Stop()
	sweep := time.NewTicker(pol.SweepInterval)
	defer sweep.Stop()
	purge := time.NewTicker(pol.PurgeInterval)
	defer purge.Stop()

	// First pass immediately so a restart does not sit idle for a full tick.
	p.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			// Tick interval and hours timezone are runtime knobs; pick up
			// changes between ticks.
			next := p.deps.Policy.Snapshot()
			if next.TickInterval != pol.TickInterval {
				pol.TickInterval = next.TickInterval
				ticker.Reset(next.TickInterval)
			}
			if next.Hours.Timezone != tz {
				tz = next.Hours.Timezone
				if fresh, err := p.startResetCron(tz); err != nil {
					p.deps.Logger.Error("daily reset keeps previous timezone",
						slog.String("timezone", tz),
						slog.String("error", err.Error()),
					)
				} else {
					resetCron.Stop()
					resetCron = fresh
					p.deps.Logger.Info("daily reset moved to new timezone",
						slog.String("timezone", tz))
				}
			}
			p.Tick(ctx)
		case <-p.trigger:
			p.Tick(ctx)
		case <-sweep.C:
			p.sweepStale(ctx)
		case <-purge.C:
			purged := p.deps.Calls.PurgeResolved(p.deps.Policy.Snapshot().ResolvedRetention)
			if purged > 0 {
				p.deps.Logger.Info("purged resolved calls", slog.Int("count", purged))
			}
		}
	}
}

// Tick runs one processing pass: hours gate, then an eligible batch through
// dispatch. Record failures are isolated; one bad record never aborts the
// batch.
func (p *Processor) Tick(ctx context.Context) {
	ctx, span := otel.Tracer("dispatch").Start(ctx, "dispatch.tick")
	defer span.End()

	if !p.enabled.Load() {
		telemetry.DispatchTicks.WithLabelValues("disabled").Inc()
		return
	}

	pol := p.deps.Policy.Snapshot()
	now := p.now()

	if !pol.Hours.IsActive(now) {
		telemetry.DispatchTicks.WithLabelValues("outside_hours").Inc()
		span.SetAttributes(attribute.Bool("hours.active", false))
		return
	}

	batch := p.deps.Queue.Eligible(now, pol.BatchSize)
	span.SetAttributes(attribute.Int("batch.size", len(batch)))

	for _, rec := range batch {
		if err := p.dispatchRecord(ctx, rec); err != nil {
			if errors.Is(err, errBatchExhausted) {
				break
			}
			p.deps.Logger.Error("dispatch failed",
				slog.String("phone", rec.Phone),
				slog.String("error", err.Error()),
			)
		}
	}

	telemetry.DispatchTicks.WithLabelValues("processed").Inc()
	p.updateGauges()
}

// dispatchRecord pushes one eligible record through the gates and places the
// call. Skips are silent by design: a number with a call already in flight or
// inside its re-contact interval simply stays queued.
func (p *Processor) dispatchRecord(ctx context.Context, rec *domain.RedialRecord) error {
	ctx, span := otel.Tracer("dispatch").Start(ctx, "dispatch.record")
	defer span.End()
	span.SetAttributes(attribute.String("phone", rec.Phone))

	// One in-flight call per number. The correlation cache is the authority.
	if pending := p.deps.Calls.PendingForNumber(rec.Phone); pending != nil {
		return nil
	}

	decision := p.deps.Limiter.TryAcquire(rec.Phone)
	if !decision.Granted {
		telemetry.AdmissionDenied.WithLabelValues(decision.Reason).Inc()
		if decision.Reason == admission.ReasonGlobalRate {
			// No global capacity left; the rest of the batch waits too.
			return errBatchExhausted
		}
		return nil
	}

	token, err := p.deps.Identities.Select(rec.LeadID, "")
	if err != nil {
		return fmt.Errorf("select identity: %w", err)
	}

	pol := p.deps.Policy.Snapshot()
	var result dialer.PlacementResult
	err = retry.Do(ctx, retry.Config{
		MaxAttempts: pol.PlacementAttempts,
		BaseDelay:   pol.PlacementBaseDelay,
		Retryable:   dialer.IsTransient,
		OnRetry: func(attempt int, err error) {
			p.deps.Logger.Warn("placement retry",
				slog.String("phone", rec.Phone),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		},
	}, func() error {
		var perr error
		result, perr = p.deps.Placer.Place(ctx, dialer.PlacementRequest{
			Phone:    rec.Phone,
			CallerID: token,
			Variables: map[string]string{
				"lead_id":    rec.LeadID,
				"list_id":    rec.ListID,
				"first_name": rec.FirstName,
				"last_name":  rec.LastName,
			},
		})
		return perr
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, "placement failed")
		if dialer.IsPermanentRejection(err) {
			telemetry.PlacementFailures.WithLabelValues("permanent").Inc()
			p.deps.Logger.Warn("number permanently rejected, blocklisting",
				slog.String("phone", rec.Phone),
				slog.String("error", err.Error()),
			)
			p.deps.Queue.Blocklist(rec.Phone)
			return nil
		}
		if dialer.IsTransient(err) {
			telemetry.PlacementFailures.WithLabelValues("transient").Inc()
		} else {
			telemetry.PlacementFailures.WithLabelValues("other").Inc()
		}
		return fmt.Errorf("place call to %s: %w", rec.Phone, err)
	}

	now := p.now()
	call := domain.PendingCall{
		CallID:    result.CallID,
		LeadID:    rec.LeadID,
		Phone:     rec.Phone,
		FirstName: rec.FirstName,
		LastName:  rec.LastName,
		ListID:    rec.ListID,
		Identity:  token,
		CreatedAt: now,
	}
	if err := p.deps.Calls.Register(call); err != nil {
		// Duplicate call ID from the provider. The call is live; keep the
		// original registration and let the completion event settle it.
		p.deps.Logger.Error("failed to register pending call",
			slog.String("call_id", result.CallID),
			slog.String("error", err.Error()),
		)
	}
	if err := p.deps.Queue.MarkDispatched(rec.Phone, result.CallID, now); err != nil {
		p.deps.Logger.Error("failed to mark record dispatched",
			slog.String("phone", rec.Phone),
			slog.String("error", err.Error()),
		)
	}
	p.deps.Identities.RecordLeadMapping(rec.LeadID, token)
	telemetry.CallsPlaced.Inc()

	span.SetAttributes(attribute.String("call_id", result.CallID))
	p.deps.Logger.Info("call placed",
		slog.String("call_id", result.CallID),
		slog.String("phone", rec.Phone),
		slog.String("identity", token),
		slog.Int("attempt", rec.Attempts+1),
	)

	p.mirrorCallState(ctx, &call)
	p.auditDispatch(ctx, &call, rec.Attempts+1)
	return nil
}

// DispatchImmediate places a call for one number right now, outside the tick
// loop. Admission still applies; the business-hours gate and queue ordering
// do not — this is the operator's "dial now". Returns the provider call ID.
func (p *Processor) DispatchImmediate(ctx context.Context, phone string, lead redial.Context) (string, error) {
	normalized := domain.NormalizePhone(phone)
	if !domain.ValidPhone(normalized) {
		return "", &domain.InvalidPhoneError{Raw: phone}
	}
	rec, err := p.deps.Queue.Ensure(normalized, lead)
	if err != nil {
		return "", err
	}
	if pending := p.deps.Calls.PendingForNumber(normalized); pending != nil {
		return "", &domain.DuplicateCallError{CallID: pending.CallID}
	}
	if err := p.dispatchRecord(ctx, rec); err != nil {
		if errors.Is(err, errBatchExhausted) {
			return "", fmt.Errorf("dispatch: global rate exhausted, retry shortly")
		}
		return "", err
	}
	if pending := p.deps.Calls.PendingForNumber(normalized); pending != nil {
		return pending.CallID, nil
	}
	return "", fmt.Errorf("dispatch: call to %s was not admitted", normalized)
}

// HandleCompletionMessage adapts the Kafka consumer to the completion path.
// Malformed payloads are logged and committed — re-delivering them cannot
// help.
func (p *Processor) HandleCompletionMessage(ctx context.Context, msg kafka.Message) error {
	ev, err := kafka.DecodeCompletionEvent(msg.Value)
	if err != nil {
		p.deps.Logger.Error("dropping malformed completion event",
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return p.OnCompletion(ctx, ev)
}

// OnCompletion settles a call against the correlation cache and reconciles
// the redial schedule, identity stats, audit trail and downstream consumers.
// Idempotent: duplicate events for a settled call are counted and dropped.
func (p *Processor) OnCompletion(ctx context.Context, ev *kafka.CompletionEvent) error {
	ctx, span := otel.Tracer("dispatch").Start(ctx, "dispatch.completion")
	defer span.End()
	span.SetAttributes(
		attribute.String("call_id", ev.CallID),
		attribute.String("outcome", ev.Outcome),
	)

	call, err := p.deps.Calls.Resolve(ev.CallID, ev.Outcome)
	if err != nil {
		var notFound *domain.CallNotFoundError
		if errors.As(err, &notFound) {
			telemetry.CompletionsDuplicate.Inc()
			p.deps.Logger.Debug("completion for unknown or settled call",
				slog.String("call_id", ev.CallID))
			return nil
		}
		return err
	}

	p.applyOutcome(ctx, call, ev.Outcome, ev.CallbackAt)
	p.updateGauges()
	return nil
}

// applyOutcome is shared by the completion path and the staleness sweep.
func (p *Processor) applyOutcome(ctx context.Context, call *domain.PendingCall, outcome string, callbackAt *time.Time) {
	log := p.deps.Logger.With(
		slog.String("call_id", call.CallID),
		slog.String("phone", call.Phone),
		slog.String("outcome", outcome),
	)

	if err := p.deps.Queue.RecordOutcome(call.Phone, outcome, callbackAt); err != nil {
		var notFound *domain.RecordNotFoundError
		if !errors.As(err, &notFound) {
			log.Error("failed to reconcile redial schedule", slog.String("error", err.Error()))
		}
		// A removed or blocklisted record has nothing to reconcile.
	}

	p.deps.Identities.RecordOutcome(call.Identity, domain.IsConnectFailure(outcome))

	switch domain.ClassifyOutcome(outcome) {
	case domain.OutcomeTerminal:
		telemetry.CompletionsResolved.WithLabelValues("terminal").Inc()
	case domain.OutcomeScheduled:
		telemetry.CompletionsResolved.WithLabelValues("callback").Inc()
	default:
		telemetry.CompletionsResolved.WithLabelValues("retry").Inc()
	}

	log.Info("call resolved")

	p.mirrorCallState(ctx, call)
	now := p.now()
	if p.deps.Attempts != nil {
		if err := p.deps.Attempts.RecordCompletion(ctx, call.CallID, outcome, call.Error, now); err != nil {
			log.Error("failed to audit completion", slog.String("error", err.Error()))
		}
	}
	if p.deps.Leads != nil && call.LeadID != "" {
		if err := p.deps.Leads.UpdateDisposition(ctx, call.LeadID, outcome); err != nil {
			log.Error("failed to update lead disposition", slog.String("error", err.Error()))
		}
	}
	if p.deps.Producer != nil {
		p.publishDisposition(ctx, call, outcome, now, log)
	}
}

func (p *Processor) publishDisposition(ctx context.Context, call *domain.PendingCall, outcome string, at time.Time, log *slog.Logger) {
	attempts := 0
	if rec, err := p.deps.Queue.Get(call.Phone); err == nil {
		attempts = rec.Attempts
	}
	ev := &kafka.DispositionEvent{
		CallID:     call.CallID,
		LeadID:     call.LeadID,
		Phone:      call.Phone,
		Outcome:    outcome,
		Attempts:   attempts,
		Terminal:   domain.ClassifyOutcome(outcome) == domain.OutcomeTerminal,
		ResolvedAt: at,
	}
	data, err := ev.Encode()
	if err != nil {
		log.Error("failed to encode disposition event", slog.String("error", err.Error()))
		return
	}
	if err := p.deps.Producer.Publish(ctx, kafka.TopicDispositions, call.LeadID, data); err != nil {
		log.Error("failed to publish disposition event", slog.String("error", err.Error()))
	}
}

// sweepStale converts calls that never received a completion event into
// failures and feeds them back into scheduling as NO_COMPLETION.
func (p *Processor) sweepStale(ctx context.Context) {
	pol := p.deps.Policy.Snapshot()
	swept := p.deps.Calls.SweepStale(pol.StaleCallMaxAge)
	for _, call := range swept {
		telemetry.StaleCallsSwept.Inc()
		p.deps.Logger.Warn("pending call swept as stale",
			slog.String("call_id", call.CallID),
			slog.String("phone", call.Phone),
			slog.Duration("max_age", pol.StaleCallMaxAge),
		)
		p.applyOutcome(ctx, call, domain.OutcomeNoCompletion, nil)
	}
	if len(swept) > 0 {
		p.updateGauges()
	}
}

// startResetCron schedules the midnight daily-counter reset in the given
// timezone and starts it. Run rebuilds the cron when the hours timezone knob
// changes so midnight tracks the configured zone.
func (p *Processor) startResetCron(tz string) (*cron.Cron, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", tz, err)
	}
	c := cron.New(cron.WithLocation(loc))
	if _, err := c.AddFunc("0 0 * * *", p.resetDailyCounters); err != nil {
		return nil, fmt.Errorf("schedule daily reset: %w", err)
	}
	c.Start()
	return c, nil
}

func (p *Processor) resetDailyCounters() {
	n := p.deps.Queue.ResetDailyCounters()
	telemetry.DailyCountersReset.Add(float64(n))
	p.deps.Logger.Info("daily attempt counters reset", slog.Int("records", n))
}

// mirrorCallState publishes the call snapshot to Redis. Best effort.
func (p *Processor) mirrorCallState(ctx context.Context, call *domain.PendingCall) {
	if p.deps.CallState == nil {
		return
	}
	if err := p.deps.CallState.SetCallState(ctx, call); err != nil {
		p.deps.Logger.Error("failed to mirror call state",
			slog.String("call_id", call.CallID),
			slog.String("error", err.Error()),
		)
	}
}

// auditDispatch writes the attempt row to Postgres. Best effort.
func (p *Processor) auditDispatch(ctx context.Context, call *domain.PendingCall, attempt int) {
	if p.deps.Attempts == nil {
		return
	}
	err := p.deps.Attempts.RecordDispatch(ctx, &postgres.CallAttempt{
		CallID:    call.CallID,
		RequestID: call.RequestID,
		LeadID:    call.LeadID,
		Phone:     call.Phone,
		Identity:  call.Identity,
		Attempt:   attempt,
		DialedAt:  call.CreatedAt,
	})
	if err != nil {
		p.deps.Logger.Error("failed to audit dispatch",
			slog.String("call_id", call.CallID),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Processor) updateGauges() {
	stats := p.deps.Queue.QueueStats()
	for status, n := range stats.ByStatus {
		telemetry.QueueRecords.WithLabelValues(string(status)).Set(float64(n))
	}
	pending, _ := p.deps.Calls.Counts()
	telemetry.CallsInFlight.Set(float64(pending))
}
