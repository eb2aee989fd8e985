package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemoryLockerSerializesSameBalance(t *testing.T) {
	locker := NewMemory(time.Second)
	ctx := context.Background()

	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithBalanceLock(ctx, "bal-1", func(context.Context) error {
				cur := counter
				time.Sleep(time.Microsecond)
				counter = cur + 1
				return nil
			})
			if err != nil {
				t.Errorf("lock: %v", err)
			}
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Fatalf("lost updates: counter=%d", counter)
	}
}

func TestMemoryLockerTimesOutBounded(t *testing.T) {
	locker := NewMemory(50 * time.Millisecond)
	ctx := context.Background()

	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = locker.WithBalanceLock(ctx, "bal-1", func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	err := locker.WithBalanceLock(ctx, "bal-1", func(context.Context) error { return nil })
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected lock timeout, got %v", err)
	}
}

func TestMemoryLockerAllowsDistinctBalances(t *testing.T) {
	locker := NewMemory(100 * time.Millisecond)
	ctx := context.Background()

	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = locker.WithBalanceLock(ctx, "bal-1", func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	// A different balance id must not contend.
	if err := locker.WithBalanceLock(ctx, "bal-2", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("independent balance blocked: %v", err)
	}
}

func TestMemoryLockerHonorsContextCancellation(t *testing.T) {
	locker := NewMemory(time.Minute)

	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = locker.WithBalanceLock(context.Background(), "bal-1", func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := locker.WithBalanceLock(ctx, "bal-1", func(context.Context) error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline, got %v", err)
	}
}
