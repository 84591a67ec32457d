// Package postgres persists the call-attempt audit trail. The scheduler's
// source of truth is the redial queue's file store; Postgres rows exist for
// reporting and reconciliation, so writes are best-effort at call sites.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CallAttempt is one audit row: a dispatch and, once known, its outcome.
type CallAttempt struct {
	ID         string     `json:"id"`
	CallID     string     `json:"call_id"`
	RequestID  string     `json:"request_id"`
	LeadID     string     `json:"lead_id"`
	Phone      string     `json:"phone"`
	Identity   string     `json:"identity"`
	Attempt    int        `json:"attempt"`
	Outcome    string     `json:"outcome,omitempty"`
	Error      string     `json:"error,omitempty"`
	DialedAt   time.Time  `json:"dialed_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// AttemptRepository abstracts the audit-trail database access.
type AttemptRepository interface {
	RecordDispatch(ctx context.Context, attempt *CallAttempt) error
	RecordCompletion(ctx context.Context, callID, outcome, errText string, resolvedAt time.Time) error
	ListByPhone(ctx context.Context, phone string, limit int) ([]*CallAttempt, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository wraps a pgxpool with the AttemptRepository interface.
func NewRepository(pool *pgxpool.Pool) AttemptRepository {
	return &repository{pool: pool}
}

// NewPool creates a pgxpool and verifies connectivity.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}

func (r *repository) RecordDispatch(ctx context.Context, attempt *CallAttempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.New().String()
	}
	if attempt.DialedAt.IsZero() {
		attempt.DialedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO call_attempts
			(id, call_id, request_id, lead_id, phone, identity, attempt, dialed_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		attempt.ID, attempt.CallID, attempt.RequestID, attempt.LeadID,
		attempt.Phone, attempt.Identity, attempt.Attempt, attempt.DialedAt,
	)
	if err != nil {
		return fmt.Errorf("record dispatch for call %s: %w", attempt.CallID, err)
	}
	return nil
}

func (r *repository) RecordCompletion(ctx context.Context, callID, outcome, errText string, resolvedAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE call_attempts
		SET outcome = $1, error = $2, resolved_at = $3
		WHERE call_id = $4
	`, outcome, errText, resolvedAt, callID)
	if err != nil {
		return fmt.Errorf("record completion for call %s: %w", callID, err)
	}
	return nil
}

func (r *repository) ListByPhone(ctx context.Context, phone string, limit int) ([]*CallAttempt, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, call_id, request_id, lead_id, phone, identity, attempt,
		       COALESCE(outcome, ''), COALESCE(error, ''), dialed_at, resolved_at
		FROM call_attempts
		WHERE phone = $1
		ORDER BY dialed_at DESC
		LIMIT $2
	`, phone, limit)
	if err != nil {
		return nil, fmt.Errorf("list attempts for %s: %w", phone, err)
	}
	defer rows.Close()

	var attempts []*CallAttempt
	for rows.Next() {
		var a CallAttempt
		if err := rows.Scan(
			&a.ID, &a.CallID, &a.RequestID, &a.LeadID, &a.Phone,
			&a.Identity, &a.Attempt, &a.Outcome, &a.Error,
			&a.DialedAt, &a.ResolvedAt,
		); err != nil {
			return nil, fmt.Errorf("scan call attempt: %w", err)
		}
		attempts = append(attempts, &a)
	}
	return attempts, rows.Err()
}
