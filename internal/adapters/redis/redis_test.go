package redisad_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	redisad "ota_sync/internal/adapters/redis"
	"ota_sync/internal/domain"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = c.Close() })
	return mr, c
}

func TestCache_SetGetDelAndTTL(t *testing.T) {
	mr, c := newClient(t)
	cache := redisad.NewWithClient(c)
	ctx := context.Background()

	type snap struct {
		Code  string
		Rooms []string
	}
	if ok, err := cache.Get(ctx, "k", &snap{}); ok || err != nil {
		t.Fatalf("expected miss, got %v %v", ok, err)
	}
	if err := cache.Set(ctx, "k", snap{Code: "H1", Rooms: []string{"DLX"}}, 60); err != nil {
		t.Fatalf("set: %v", err)
	}
	var got snap
	if ok, err := cache.Get(ctx, "k", &got); !ok || err != nil || got.Code != "H1" || got.Rooms[0] != "DLX" {
		t.Fatalf("unexpected hit: %v %v %+v", ok, err, got)
	}

	mr.FastForward(61 * time.Second)
	if ok, _ := cache.Get(ctx, "k", &got); ok {
		t.Fatalf("expected expiry")
	}

	_ = cache.Set(ctx, "k", snap{Code: "H2"}, 60)
	if err := cache.Del(ctx, "k"); err != nil {
		t.Fatalf("del: %v", err)
	}
	if mr.Exists("k") {
		t.Fatalf("key should be gone")
	}
}

func TestCache_UndecodableValueIsAMiss(t *testing.T) {
	mr, c := newClient(t)
	_ = mr.Set("k", "not json")
	var v map[string]any
	ok, err := redisad.NewWithClient(c).Get(context.Background(), "k", &v)
	if ok || err != nil {
		t.Fatalf("expected clean miss, got %v %v", ok, err)
	}
	if mr.Exists("k") {
		t.Fatalf("bad entry should be dropped")
	}
}

func TestLocker_SerializesAndTimesOut(t *testing.T) {
	mr, c := newClient(t)
	l := redisad.NewLocker(c, 5*time.Second)

	unlock, err := l.Lock(context.Background(), "reservation:1:R-1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if !mr.Exists("lock:reservation:1:R-1") {
		t.Fatalf("lock key missing")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "reservation:1:R-1")
	var cc *domain.ConcurrencyConflict
	if !errors.As(err, &cc) {
		t.Fatalf("expected ConcurrencyConflict, got %v", err)
	}

	unlock()
	if mr.Exists("lock:reservation:1:R-1") {
		t.Fatalf("unlock should delete the key")
	}
	u2, err := l.Lock(context.Background(), "reservation:1:R-1")
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	u2()
}

func TestLocker_ReleaseDoesNotStealForeignLock(t *testing.T) {
	mr, c := newClient(t)
	l := redisad.NewLocker(c, time.Second)

	unlock, err := l.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	// lease expired and another holder took the key
	mr.FastForward(2 * time.Second)
	_ = mr.Set("lock:k", "someone-else")

	unlock()
	if v, _ := mr.Get("lock:k"); v != "someone-else" {
		t.Fatalf("foreign lock was released: %q", v)
	}
}

func TestLocker_WaiterAcquiresAfterRelease(t *testing.T) {
	_, c := newClient(t)
	l := redisad.NewLocker(c, 5*time.Second)

	unlock, _ := l.Lock(context.Background(), "k")
	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		u, err := l.Lock(ctx, "k")
		if err == nil {
			u()
		}
		done <- err
	}()
	time.Sleep(50 * time.Millisecond)
	unlock()
	if err := <-done; err != nil {
		t.Fatalf("waiter should acquire: %v", err)
	}
}
