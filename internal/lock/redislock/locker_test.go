package redislock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MarkoPoloResearchLab/courtbook/internal/booking"
)

// fakeRedis keeps SET NX state in memory and runs the release script's compare-and-delete.
type fakeRedis struct {
	mutex    sync.Mutex
	values   map[string]string
	ttls     map[string]time.Duration
	setNXErr error
	evals    int
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (fake *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()
	if fake.setNXErr != nil {
		return redis.NewBoolResult(false, fake.setNXErr)
	}
	if _, exists := fake.values[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	fake.values[key] = fmt.Sprint(value)
	fake.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (fake *fakeRedis) compareAndDelete(keys []string, args []interface{}) *redis.Cmd {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()
	fake.evals++
	if fake.values[keys[0]] == fmt.Sprint(args[0]) {
		delete(fake.values, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func (fake *fakeRedis) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	return fake.compareAndDelete(keys, args)
}

func (fake *fakeRedis) EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	return fake.compareAndDelete(keys, args)
}

func (fake *fakeRedis) EvalRO(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	return fake.compareAndDelete(keys, args)
}

func (fake *fakeRedis) EvalShaRO(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	return fake.compareAndDelete(keys, args)
}

func (fake *fakeRedis) ScriptExists(ctx context.Context, hashes ...string) *redis.BoolSliceCmd {
	return redis.NewBoolSliceResult(make([]bool, len(hashes)), nil)
}

func (fake *fakeRedis) ScriptLoad(ctx context.Context, script string) *redis.StringCmd {
	return redis.NewStringResult("", nil)
}

func (fake *fakeRedis) holder(key string) (string, bool) {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()
	value, ok := fake.values[key]
	return value, ok
}

func TestAcquireAndRelease(test *testing.T) {
	test.Parallel()
	fake := newFakeRedis()
	locker := newLocker(fake, WithTTL(3*time.Second), WithRetryInterval(time.Millisecond))
	key := booking.SlotLockKey("slot-1")

	release, err := locker.Acquire(context.Background(), key, 50*time.Millisecond)
	if err != nil {
		test.Fatalf("acquire: %v", err)
	}
	if _, held := fake.holder(defaultKeyPrefix + key); !held {
		test.Fatalf("expected the key to be set")
	}
	if fake.ttls[defaultKeyPrefix+key] != 3*time.Second {
		test.Fatalf("expected the configured ttl, got %s", fake.ttls[defaultKeyPrefix+key])
	}

	_, err = locker.Acquire(context.Background(), key, 10*time.Millisecond)
	if !errors.Is(err, booking.ErrConcurrentConflict) {
		test.Fatalf("expected conflict while held, got %v", err)
	}

	release()
	release()
	if _, held := fake.holder(defaultKeyPrefix + key); held {
		test.Fatalf("expected the key to be deleted")
	}
	if fake.evals != 1 {
		test.Fatalf("expected a single release script run, got %d", fake.evals)
	}
	again, err := locker.Acquire(context.Background(), key, 10*time.Millisecond)
	if err != nil {
		test.Fatalf("reacquire: %v", err)
	}
	again()
}

func TestReleaseLeavesForeignTokenAlone(test *testing.T) {
	test.Parallel()
	fake := newFakeRedis()
	locker := newLocker(fake, WithKeyPrefix("test:"))
	release, err := locker.Acquire(context.Background(), "slot:expired", 10*time.Millisecond)
	if err != nil {
		test.Fatalf("acquire: %v", err)
	}
	// The lock expired and another process took it over.
	fake.mutex.Lock()
	fake.values["test:slot:expired"] = "someone-else"
	fake.mutex.Unlock()

	release()
	if holder, _ := fake.holder("test:slot:expired"); holder != "someone-else" {
		test.Fatalf("release must not delete another holder's lock, got %q", holder)
	}
}

func TestAcquireErrors(test *testing.T) {
	test.Parallel()
	fake := newFakeRedis()
	fake.setNXErr = errors.New("connection refused")
	locker := newLocker(fake)
	if _, err := locker.Acquire(context.Background(), "slot:x", time.Second); err == nil || errors.Is(err, booking.ErrConcurrentConflict) {
		test.Fatalf("expected the redis error to surface as non-retryable, got %v", err)
	}

	busy := newFakeRedis()
	busy.values[defaultKeyPrefix+"slot:y"] = "holder"
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newLocker(busy).Acquire(ctx, "slot:y", time.Second)
	if !errors.Is(err, booking.ErrConcurrentConflict) || !errors.Is(err, context.Canceled) {
		test.Fatalf("expected cancelled conflict, got %v", err)
	}
}
