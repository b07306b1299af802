package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeStore struct {
	counts  map[string]int64
	lastTTL time.Duration
	err     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{counts: make(map[string]int64)}
}

func (s *fakeStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.counts[key]++
	s.lastTTL = ttl
	return s.counts[key], nil
}

func testLimits() map[string]int64 {
	return map[string]int64{"recommend": 10, "feedback": 30}
}

func TestAllowUnderLimit(t *testing.T) {
	store := newFakeStore()
	l := NewLimiter(store, true, time.Minute, testLimits())

	for i := 0; i < 10; i++ {
		if !l.Allow(context.Background(), "recommend", "203.0.113.7") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
}

func TestDenyOverLimit(t *testing.T) {
	store := newFakeStore()
	l := NewLimiter(store, true, time.Minute, testLimits())

	for i := 0; i < 10; i++ {
		l.Allow(context.Background(), "recommend", "203.0.113.7")
	}
	if l.Allow(context.Background(), "recommend", "203.0.113.7") {
		t.Fatal("11th request should be denied at limit 10")
	}
}

func TestLimitsArePerAction(t *testing.T) {
	store := newFakeStore()
	l := NewLimiter(store, true, time.Minute, testLimits())

	for i := 0; i < 11; i++ {
		l.Allow(context.Background(), "recommend", "203.0.113.7")
	}
	// Exhausting recommend must not consume feedback's budget.
	if !l.Allow(context.Background(), "feedback", "203.0.113.7") {
		t.Fatal("feedback action should still be allowed")
	}
}

func TestLimitsArePerClient(t *testing.T) {
	store := newFakeStore()
	l := NewLimiter(store, true, time.Minute, testLimits())

	for i := 0; i < 11; i++ {
		l.Allow(context.Background(), "recommend", "203.0.113.7")
	}
	if !l.Allow(context.Background(), "recommend", "203.0.113.8") {
		t.Fatal("a different client should not be rate limited")
	}
}

func TestFailOpenOnNilStore(t *testing.T) {
	l := NewLimiter(nil, true, time.Minute, testLimits())

	for i := 0; i < 50; i++ {
		if !l.Allow(context.Background(), "recommend", "203.0.113.7") {
			t.Fatal("limiter without a store must allow everything")
		}
	}
}

func TestFailOpenOnStoreError(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("connection refused")
	l := NewLimiter(store, true, time.Minute, testLimits())

	for i := 0; i < 50; i++ {
		if !l.Allow(context.Background(), "recommend", "203.0.113.7") {
			t.Fatal("store errors must not reject requests")
		}
	}
}

func TestDisabledLimiterAllowsAll(t *testing.T) {
	store := newFakeStore()
	l := NewLimiter(store, false, time.Minute, testLimits())

	for i := 0; i < 50; i++ {
		if !l.Allow(context.Background(), "recommend", "203.0.113.7") {
			t.Fatal("disabled limiter must allow everything")
		}
	}
	if len(store.counts) != 0 {
		t.Fatal("disabled limiter should not touch the store")
	}
}

func TestUnknownActionNotLimited(t *testing.T) {
	store := newFakeStore()
	l := NewLimiter(store, true, time.Minute, testLimits())

	if !l.Allow(context.Background(), "stats", "203.0.113.7") {
		t.Fatal("actions without a configured limit must be allowed")
	}
	if len(store.counts) != 0 {
		t.Fatal("unlimited actions should not consume counters")
	}
}

func TestWindowPassedToStore(t *testing.T) {
	store := newFakeStore()
	l := NewLimiter(store, true, time.Minute, testLimits())

	l.Allow(context.Background(), "recommend", "203.0.113.7")
	if store.lastTTL != time.Minute {
		t.Fatalf("counter TTL = %v, want %v", store.lastTTL, time.Minute)
	}
}
