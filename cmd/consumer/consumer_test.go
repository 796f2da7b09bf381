package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/superjustkidding/fango/internal/models"
)

type fakeCache struct {
	fail  int // number of times Push fails before succeeding
	calls int
}

func (f *fakeCache) Push(ctx context.Context, loc models.RiderLocation) error {
	f.calls++
	if f.calls <= f.fail {
		return errors.New("cache down")
	}
	return nil
}

func TestUpdateCacheWithRetrySucceedsAfterRetries(t *testing.T) {
	f := &fakeCache{fail: 2}
	loc := models.RiderLocation{RiderID: "r1", Latitude: 31.23, Longitude: 121.47}
	start := time.Now()
	if err := updateCacheWithRetry(context.Background(), f, loc, 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", f.calls)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatal("expected at least one backoff pause")
	}
}

func TestUpdateCacheWithRetryFailsWhenExhausted(t *testing.T) {
	f := &fakeCache{fail: 5}
	loc := models.RiderLocation{RiderID: "r1", Latitude: 31.23, Longitude: 121.47}
	if err := updateCacheWithRetry(context.Background(), f, loc, 3, time.Millisecond); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if f.calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", f.calls)
	}
}
