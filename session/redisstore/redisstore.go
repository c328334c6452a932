// Package redisstore backs the conversation registry with redis so dialogue
// state survives restarts and can be shared across replicas.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/samjosdev/deepresearch/session"
)

const (
	convKeyPrefix = "conversation:"
	lockSuffix    = ":lock"
	lockTTL       = 2 * time.Minute
	lockRetry     = 50 * time.Millisecond
)

type Registry struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRegistry(rdb *redis.Client, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Registry{rdb: rdb, ttl: ttl}
}

// Acquire takes the conversation's turn lock, then loads its state. A
// conversation idle past the TTL has simply expired from redis and comes
// back fresh. The lock expires on its own if a holder dies mid-turn.
func (r *Registry) Acquire(ctx context.Context, id string) (*session.Conversation, error) {
	if id == "" {
		id = uuid.NewString()
	}
	lockKey := convKeyPrefix + id + lockSuffix
	for {
		ok, err := r.rdb.SetNX(ctx, lockKey, "1", lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire conversation lock: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-time.After(lockRetry):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	raw, err := r.rdb.Get(ctx, convKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return session.NewConversation(id), nil
	}
	if err != nil {
		r.rdb.Del(context.WithoutCancel(ctx), lockKey)
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	var conv session.Conversation
	if err := json.Unmarshal(raw, &conv); err != nil {
		// Corrupt state is unrecoverable; start the dialogue over.
		return session.NewConversation(id), nil
	}
	conv.ID = id
	return &conv, nil
}

// Release persists the conversation with a fresh TTL and drops the lock.
func (r *Registry) Release(ctx context.Context, conv *session.Conversation) error {
	conv.LastSeen = time.Now()
	raw, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}

	// Persist even when the turn's context was cancelled; losing the lock is
	// recoverable, losing the state is not.
	ctx = context.WithoutCancel(ctx)
	if err := r.rdb.Set(ctx, convKeyPrefix+conv.ID, raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("persist conversation: %w", err)
	}
	return r.rdb.Del(ctx, convKeyPrefix+conv.ID+lockSuffix).Err()
}

// Close is a no-op; the redis client is owned by the caller.
func (r *Registry) Close() error { return nil }
