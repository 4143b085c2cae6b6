package booking

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryLockerSerializesOneKey(test *testing.T) {
	test.Parallel()
	locker := NewMemoryLocker()
	var inside atomic.Int32
	var overlap atomic.Bool
	var waitGroup sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			release, err := locker.Acquire(context.Background(), SlotLockKey("slot-1"), time.Second)
			if err != nil {
				test.Errorf("acquire: %v", err)
				return
			}
			defer release()
			if inside.Add(1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
		}()
	}
	waitGroup.Wait()
	if overlap.Load() {
		test.Fatalf("two holders entered the same key")
	}
	if size := locker.size(); size != 0 {
		test.Fatalf("expected idle keys to be dropped, got %d", size)
	}
}

func TestMemoryLockerTimesOutWithConflict(test *testing.T) {
	test.Parallel()
	locker := NewMemoryLocker()
	release, err := locker.Acquire(context.Background(), "slot:busy", time.Second)
	if err != nil {
		test.Fatalf("acquire: %v", err)
	}

	_, err = locker.Acquire(context.Background(), "slot:busy", 10*time.Millisecond)
	if !errors.Is(err, ErrConcurrentConflict) || !IsRetryable(err) {
		test.Fatalf("expected retryable conflict, got %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := locker.Acquire(ctx, "slot:busy", time.Second); !errors.Is(err, ErrConcurrentConflict) || !errors.Is(err, context.Canceled) {
		test.Fatalf("expected cancelled conflict, got %v", err)
	}

	other, err := locker.Acquire(context.Background(), "slot:other", 10*time.Millisecond)
	if err != nil {
		test.Fatalf("unrelated key must not wait: %v", err)
	}
	other()

	release()
	release()
	again, err := locker.Acquire(context.Background(), "slot:busy", 10*time.Millisecond)
	if err != nil {
		test.Fatalf("expected key to be free after release: %v", err)
	}
	again()
	if size := locker.size(); size != 0 {
		test.Fatalf("expected no tracked keys, got %d", size)
	}
}
