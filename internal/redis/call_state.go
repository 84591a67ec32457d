// Package redis mirrors live call state into Redis for external readers
// (dashboards, the ops API of other services). Writes are best-effort: the
// scheduling core never depends on this mirror, and a Redis outage must not
// block dispatch.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nbassil/dialdispatch/internal/domain"
)

const callStateTTL = 48 * time.Hour

func callKey(callID string) string { return "call:state:" + callID }
func phoneKey(phone string) string { return "call:phone:" + phone }

// CallStateStore publishes PendingCall snapshots keyed by call ID and by
// phone number.
type CallStateStore interface {
	SetCallState(ctx context.Context, call *domain.PendingCall) error
	GetCallState(ctx context.Context, callID string) (*domain.PendingCall, error)
	GetCallByPhone(ctx context.Context, phone string) (*domain.PendingCall, error)
}

type callStateStore struct {
	client *redis.Client
}

// NewCallStateStore creates a Redis-backed CallStateStore.
func NewCallStateStore(client *redis.Client) CallStateStore {
	return &callStateStore{client: client}
}

// NewClient creates and returns a new Redis client.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		PoolSize:     10,
	})
}

func (s *callStateStore) SetCallState(ctx context.Context, call *domain.PendingCall) error {
	data, err := json.Marshal(call)
	if err != nil {
		return fmt.Errorf("marshal call state: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, callKey(call.CallID), data, callStateTTL)
	pipe.Set(ctx, phoneKey(call.Phone), data, callStateTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set call state for %s: %w", call.CallID, err)
	}
	return nil
}

func (s *callStateStore) GetCallState(ctx context.Context, callID string) (*domain.PendingCall, error) {
	return s.get(ctx, callKey(callID), callID)
}

func (s *callStateStore) GetCallByPhone(ctx context.Context, phone string) (*domain.PendingCall, error) {
	return s.get(ctx, phoneKey(phone), phone)
}

func (s *callStateStore) get(ctx context.Context, key, id string) (*domain.PendingCall, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, &domain.CallNotFoundError{CallID: id}
		}
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	var call domain.PendingCall
	if err := json.Unmarshal(data, &call); err != nil {
		return nil, fmt.Errorf("unmarshal call state: %w", err)
	}
	return &call, nil
}
