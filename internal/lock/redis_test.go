package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/sango-pay/sango_pay/internal/logging"
)

func setupRedisLocker(t *testing.T, timeout time.Duration) (*RedisLocker, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	locker := NewRedis(client, timeout, 30*time.Second, logging.Discard())
	cleanup := func() {
		client.Close()
		mr.Close()
	}
	return locker, mr, cleanup
}

func TestRedisLockerSerializes(t *testing.T) {
	locker, _, cleanup := setupRedisLocker(t, 2*time.Second)
	defer cleanup()

	ctx := context.Background()
	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
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

	if counter != 20 {
		t.Fatalf("lost updates: counter=%d", counter)
	}
}

func TestRedisLockerTimesOut(t *testing.T) {
	locker, mr, cleanup := setupRedisLocker(t, 100*time.Millisecond)
	defer cleanup()

	// Simulate a lease held by another instance.
	mr.Set(lockPrefix+"bal-1", "other-holder")

	err := locker.WithBalanceLock(context.Background(), "bal-1", func(context.Context) error { return nil })
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected lock timeout, got %v", err)
	}
}

func TestRedisLockerReleasesLease(t *testing.T) {
	locker, mr, cleanup := setupRedisLocker(t, time.Second)
	defer cleanup()

	if err := locker.WithBalanceLock(context.Background(), "bal-1", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if mr.Exists(lockPrefix + "bal-1") {
		t.Fatal("lease not released")
	}
}
