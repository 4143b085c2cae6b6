// Package redislock is a booking.Locker shared by every process that talks to the same Redis.
package redislock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/courtbook/internal/booking"
)

const (
	defaultKeyPrefix     = "courtbook:lock:"
	defaultTTL           = 10 * time.Second
	defaultRetryInterval = 20 * time.Millisecond
	releaseTimeout       = 2 * time.Second
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type commands interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// Locker takes per-key locks with SET NX PX. The TTL bounds how long a crashed holder blocks a slot.
type Locker struct {
	client        commands
	keyPrefix     string
	ttl           time.Duration
	retryInterval time.Duration
	logger        *zap.Logger
	newToken      func() string
}

// Option configures a Locker.
type Option func(*Locker)

// WithTTL sets the lock expiry. It must outlast the longest booking transaction.
func WithTTL(ttl time.Duration) Option {
	return func(locker *Locker) {
		if ttl > 0 {
			locker.ttl = ttl
		}
	}
}

// WithRetryInterval sets the pause between acquisition attempts.
func WithRetryInterval(interval time.Duration) Option {
	return func(locker *Locker) {
		if interval > 0 {
			locker.retryInterval = interval
		}
	}
}

// WithKeyPrefix namespaces the lock keys.
func WithKeyPrefix(prefix string) Option {
	return func(locker *Locker) {
		locker.keyPrefix = prefix
	}
}

// WithLogger reports release failures.
func WithLogger(logger *zap.Logger) Option {
	return func(locker *Locker) {
		if logger != nil {
			locker.logger = logger
		}
	}
}

// New builds a Locker over client.
func New(client redis.UniversalClient, options ...Option) *Locker {
	return newLocker(client, options...)
}

func newLocker(client commands, options ...Option) *Locker {
	locker := &Locker{
		client:        client,
		keyPrefix:     defaultKeyPrefix,
		ttl:           defaultTTL,
		retryInterval: defaultRetryInterval,
		logger:        zap.NewNop(),
		newToken:      uuid.NewString,
	}
	for _, option := range options {
		option(locker)
	}
	return locker
}

// Acquire polls SET NX until it wins, timeout elapses, or ctx ends.
func (locker *Locker) Acquire(ctx context.Context, key string, timeout time.Duration) (func(), error) {
	redisKey := locker.keyPrefix + key
	token := locker.newToken()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		acquired, err := locker.client.SetNX(ctx, redisKey, token, locker.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if acquired {
			return locker.releaseFunc(redisKey, token), nil
		}
		wait := time.NewTimer(locker.retryInterval)
		select {
		case <-ctx.Done():
			wait.Stop()
			return nil, fmt.Errorf("%w: %w", booking.ErrConcurrentConflict, ctx.Err())
		case <-deadline.C:
			wait.Stop()
			return nil, fmt.Errorf("%w: lock %s not acquired within %s", booking.ErrConcurrentConflict, key, timeout)
		case <-wait.C:
		}
	}
}

func (locker *Locker) releaseFunc(redisKey string, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			if err := releaseScript.Run(ctx, locker.client, []string{redisKey}, token).Err(); err != nil {
				locker.logger.Warn("redis lock release failed", zap.String("key", redisKey), zap.Error(err))
			}
		})
	}
}

var _ booking.Locker = (*Locker)(nil)
