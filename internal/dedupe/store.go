// Package dedupe answers "has this alert key been seen?" with an atomic
// claim, backed by Redis with a transparent in-process fallback.
package dedupe

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Key builds the composite alert key:
// {chain}:{txHash}:{logIndex}:{tokenAddress}:{recipient}, all lowercase.
func Key(chain, txHash string, logIndex int, token, recipient string) string {
	return strings.ToLower(fmt.Sprintf("%s:%s:%d:%s:%s", chain, txHash, logIndex, token, recipient))
}

// Store claims alert keys. Redis SET NX EX is the primary backing; a bounded
// in-process map takes over whenever Redis errors, and the store flips back
// to Redis automatically on the next successful call. Shared-store failures
// never propagate to callers.
type Store struct {
	rdb     *redis.Client
	mem     *memoryStore
	logger  *zap.Logger
	healthy atomic.Bool
}

// New builds a Store. An empty redisURL selects the in-process backing only.
func New(redisURL string, maxMemoryEntries int, logger *zap.Logger) (*Store, error) {
	s := &Store{
		mem:    newMemoryStore(maxMemoryEntries),
		logger: logger,
	}
	if redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		s.rdb = redis.NewClient(opts)
		s.healthy.Store(true)
	}
	return s, nil
}

// TryClaim atomically tests-and-marks a key. True means the key was new and
// the caller owns the alert; false means duplicate.
func (s *Store) TryClaim(ctx context.Context, key string, ttl time.Duration) bool {
	if s.rdb != nil {
		claimed, err := s.rdb.SetNX(ctx, key, "1", ttl).Result()
		if err == nil {
			if !s.healthy.Swap(true) && s.logger != nil {
				s.logger.Info("dedupe redis recovered")
			}
			if claimed {
				// Mirror into memory so a later Redis outage still
				// remembers recent claims.
				s.mem.claim(key, ttl)
			}
			return claimed
		}
		if s.healthy.Swap(false) && s.logger != nil {
			s.logger.Warn("dedupe redis error, falling back to memory", zap.Error(err))
		}
	}
	return s.mem.tryClaim(key, ttl)
}

// Release undoes a claim after a failed delivery so the event can be alerted
// on again.
func (s *Store) Release(ctx context.Context, key string) {
	s.mem.release(key)
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		if s.healthy.Swap(false) && s.logger != nil {
			s.logger.Warn("dedupe redis release failed", zap.Error(err))
		}
	}
}

// Healthy reports whether the shared backing answered its last call. A store
// without Redis is always healthy on its memory backing.
func (s *Store) Healthy() bool {
	if s.rdb == nil {
		return true
	}
	return s.healthy.Load()
}
