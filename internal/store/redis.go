package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openeld/journal/internal/journal"
)

// redisKeyPrefix namespaces sequence state keys in a shared Redis instance.
const redisKeyPrefix = "eldjournal:seq:"

// sequenceStateTTL bounds how long a scope's state lives in Redis. Scopes
// are per calendar day, so state older than the retention window is never
// read again.
const sequenceStateTTL = 14 * 24 * time.Hour

// redisState is the JSON encoding of a scope's counter stored under one key.
type redisState struct {
	LastIssuedID    uint16    `json:"last_issued_id"`
	LastIssuedAt    time.Time `json:"last_issued_at"`
	WrapAroundCount uint32    `json:"wrap_around_count"`
}

// RedisStore persists sequence state in Redis. The compare-and-swap contract
// is implemented with WATCH/MULTI: the key is watched, the current value is
// compared against prev, and the write is queued in a transaction that Redis
// aborts if the key changed underneath us.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a RedisStore backed by client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func redisKey(scope journal.Scope) string {
	return redisKeyPrefix + scope.String()
}

// Load returns the state for scope, or ok == false if the key does not exist.
func (s *RedisStore) Load(ctx context.Context, scope journal.Scope) (journal.SequenceState, bool, error) {
	raw, err := s.client.Get(ctx, redisKey(scope)).Bytes()
	if errors.Is(err, redis.Nil) {
		return journal.SequenceState{}, false, nil
	}
	if err != nil {
		return journal.SequenceState{}, false, fmt.Errorf("failed to load sequence state: %w", err)
	}

	var stored redisState
	if err := json.Unmarshal(raw, &stored); err != nil {
		return journal.SequenceState{}, false, fmt.Errorf("failed to decode sequence state: %w", err)
	}

	return journal.SequenceState{
		Scope:           scope,
		LastIssuedID:    stored.LastIssuedID,
		LastIssuedAt:    stored.LastIssuedAt,
		WrapAroundCount: stored.WrapAroundCount,
	}, true, nil
}

// Save persists next if and only if the stored state still equals prev.
func (s *RedisStore) Save(ctx context.Context, prev *journal.SequenceState, next journal.SequenceState) error {
	key := redisKey(next.Scope)

	payload, err := json.Marshal(redisState{
		LastIssuedID:    next.LastIssuedID,
		LastIssuedAt:    next.LastIssuedAt,
		WrapAroundCount: next.WrapAroundCount,
	})
	if err != nil {
		return fmt.Errorf("failed to encode sequence state: %w", err)
	}

	txn := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			if prev != nil {
				return fmt.Errorf("%w: scope %s", ErrStateConflict, next.Scope)
			}
		case err != nil:
			return fmt.Errorf("failed to read sequence state: %w", err)
		default:
			if prev == nil {
				return fmt.Errorf("%w: scope %s", ErrStateConflict, next.Scope)
			}
			var stored redisState
			if err := json.Unmarshal(raw, &stored); err != nil {
				return fmt.Errorf("failed to decode sequence state: %w", err)
			}
			if stored.LastIssuedID != prev.LastIssuedID || stored.WrapAroundCount != prev.WrapAroundCount {
				return fmt.Errorf("%w: scope %s", ErrStateConflict, next.Scope)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, sequenceStateTTL)
			return nil
		})
		return err
	}

	err = s.client.Watch(ctx, txn, key)
	if errors.Is(err, redis.TxFailedErr) {
		// The key changed between WATCH and EXEC.
		return fmt.Errorf("%w: scope %s", ErrStateConflict, next.Scope)
	}
	return err
}
