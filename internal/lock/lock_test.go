package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestLocalSerializesSameKey(t *testing.T) {
	locker := NewLocal()
	ctx := context.Background()

	var active, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Acquire(ctx, "conv-1")
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			defer release()

			n := atomic.AddInt32(&active, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	if peak != 1 {
		t.Fatalf("expected at most one holder, saw %d", peak)
	}
	if locker.size() != 0 {
		t.Fatalf("expected entries to be dropped, got %d", locker.size())
	}
}

func TestLocalDifferentKeysDoNotBlock(t *testing.T) {
	locker := NewLocal()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	releaseA, err := locker.Acquire(ctx, "a")
	if err != nil {
		t.Fatalf("acquire a: %v", err)
	}
	defer releaseA()

	releaseB, err := locker.Acquire(ctx, "b")
	if err != nil {
		t.Fatalf("acquire b while a is held: %v", err)
	}
	releaseB()
}

func TestLocalAcquireHonoursContext(t *testing.T) {
	locker := NewLocal()

	release, err := locker.Acquire(context.Background(), "busy")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := locker.Acquire(ctx, "busy"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	release()
	release()

	if locker.size() != 0 {
		t.Fatalf("expected no tracked keys, got %d", locker.size())
	}
}

func newMiniredisLocker(t *testing.T, ttl time.Duration) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, ttl, nil), server
}

func TestRedisLocker(t *testing.T) {
	locker, server := newMiniredisLocker(t, time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	release, err := locker.Acquire(ctx, "conv-1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !server.Exists(keyPrefix + "conv-1") {
		t.Fatalf("expected lock key to be set")
	}

	waitCtx, waitCancel := context.WithTimeout(ctx, 150*time.Millisecond)
	defer waitCancel()
	if _, err := locker.Acquire(waitCtx, "conv-1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected second acquire to time out, got %v", err)
	}

	release()
	release()
	if server.Exists(keyPrefix + "conv-1") {
		t.Fatalf("expected lock key to be removed on release")
	}

	again, err := locker.Acquire(ctx, "conv-1")
	if err != nil {
		t.Fatalf("re-acquire after release: %v", err)
	}
	again()
}

func TestRedisLockerRenewsWhileHeld(t *testing.T) {
	locker, server := newMiniredisLocker(t, 300*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	release, err := locker.Acquire(ctx, "slow-turn")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	// Total elapsed lock time passes the TTL; only renewal keeps the key alive.
	server.FastForward(200 * time.Millisecond)
	time.Sleep(250 * time.Millisecond)
	server.FastForward(200 * time.Millisecond)

	if !server.Exists(keyPrefix + "slow-turn") {
		t.Fatalf("expected held lock to survive past its ttl")
	}

	waitCtx, waitCancel := context.WithTimeout(ctx, 120*time.Millisecond)
	defer waitCancel()
	if _, err := locker.Acquire(waitCtx, "slow-turn"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected held lock to block a second holder, got %v", err)
	}
}

func TestRedisLockerStopsRenewingAfterRelease(t *testing.T) {
	locker, server := newMiniredisLocker(t, 300*time.Millisecond)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "done-turn")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	release()

	// A foreign holder must not be extended or deleted by the old token.
	if err := server.Set(keyPrefix+"done-turn", "someone-else"); err != nil {
		t.Fatalf("seed foreign holder: %v", err)
	}
	server.SetTTL(keyPrefix+"done-turn", 300*time.Millisecond)
	time.Sleep(250 * time.Millisecond)
	server.FastForward(400 * time.Millisecond)

	if server.Exists(keyPrefix + "done-turn") {
		t.Fatalf("expected foreign key to expire untouched")
	}
}
