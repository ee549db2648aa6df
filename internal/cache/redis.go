// internal/cache/redis.go
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jason-s-yu/raven/internal/config"
	"github.com/redis/go-redis/v9"
)

// DefaultReplyPrefix namespaces creation replies in Redis.
const DefaultReplyPrefix = "raven:create-reply:"

// Connect builds a Redis client from cfg and verifies it with a ping.
func Connect(ctx context.Context, cfg config.Redis) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
		DB:   cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// ReplyLedger records the reply sent for each broker creation request, keyed
// by correlation ID, so a redelivered request can be answered without
// creating a second session.
type ReplyLedger struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewReplyLedger returns a ledger whose entries expire after ttl.
func NewReplyLedger(rdb redis.UniversalClient, ttl time.Duration) *ReplyLedger {
	return &ReplyLedger{rdb: rdb, prefix: DefaultReplyPrefix, ttl: ttl}
}

// Lookup returns the recorded reply for correlationID, if any.
func (l *ReplyLedger) Lookup(ctx context.Context, correlationID string) ([]byte, bool, error) {
	reply, err := l.rdb.Get(ctx, l.prefix+correlationID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to GET reply for %s: %w", correlationID, err)
	}
	return reply, true, nil
}

// Remember stores the reply unless one is already recorded; the first reply wins.
func (l *ReplyLedger) Remember(ctx context.Context, correlationID string, reply []byte) error {
	if err := l.rdb.SetNX(ctx, l.prefix+correlationID, reply, l.ttl).Err(); err != nil {
		return fmt.Errorf("failed to SETNX reply for %s: %w", correlationID, err)
	}
	return nil
}
