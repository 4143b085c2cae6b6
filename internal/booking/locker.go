package booking

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Locker serializes work on one key. Acquire gives up with ErrConcurrentConflict
// after timeout; the returned release func is safe to call more than once.
type Locker interface {
	Acquire(ctx context.Context, key string, timeout time.Duration) (func(), error)
}

// SlotLockKey is the lock key of a slot.
func SlotLockKey(slotID string) string {
	return "slot:" + slotID
}

// MemoryLocker is an in-process keyed mutex. Idle keys are dropped so the map
// only holds slots with a holder or waiter.
type MemoryLocker struct {
	mutex sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	token chan struct{}
	users int
}

// NewMemoryLocker builds an empty MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]*keyLock)}
}

// Acquire blocks until key is free, timeout elapses, or ctx ends.
func (locker *MemoryLocker) Acquire(ctx context.Context, key string, timeout time.Duration) (func(), error) {
	lock := locker.join(key)
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-lock.token:
		var once sync.Once
		return func() {
			once.Do(func() {
				lock.token <- struct{}{}
				locker.leave(key, lock)
			})
		}, nil
	case <-timer.C:
		locker.leave(key, lock)
		return nil, fmt.Errorf("%w: lock %s not acquired within %s", ErrConcurrentConflict, key, timeout)
	case <-ctx.Done():
		locker.leave(key, lock)
		return nil, fmt.Errorf("%w: %w", ErrConcurrentConflict, ctx.Err())
	}
}

func (locker *MemoryLocker) join(key string) *keyLock {
	locker.mutex.Lock()
	defer locker.mutex.Unlock()
	lock, ok := locker.locks[key]
	if !ok {
		lock = &keyLock{token: make(chan struct{}, 1)}
		lock.token <- struct{}{}
		locker.locks[key] = lock
	}
	lock.users++
	return lock
}

func (locker *MemoryLocker) leave(key string, lock *keyLock) {
	locker.mutex.Lock()
	defer locker.mutex.Unlock()
	lock.users--
	if lock.users == 0 && locker.locks[key] == lock {
		delete(locker.locks, key)
	}
}

func (locker *MemoryLocker) size() int {
	locker.mutex.Lock()
	defer locker.mutex.Unlock()
	return len(locker.locks)
}
