package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMinInterval(t *testing.T) {
	if got := MinInterval(20); got != 3*time.Second {
		t.Fatalf("expected 3s for 20 rpm, got %s", got)
	}
	if got := MinInterval(0); got != 0 {
		t.Fatalf("expected zero interval for unlimited worker, got %s", got)
	}
}

func TestAcquireSpacesCalls(t *testing.T) {
	// 600 rpm -> 100ms between grants
	l := New(map[string]int{"citation": 600})
	ctx := context.Background()
	const n = 4
	start := time.Now()
	for i := 0; i < n; i++ {
		if err := l.Acquire(ctx, "citation"); err != nil {
			t.Fatalf("acquire: %v", err)
		}
	}
	elapsed := time.Since(start)
	min := time.Duration(n-1) * 100 * time.Millisecond
	// allow scheduler jitter below the theoretical minimum
	if elapsed < min-10*time.Millisecond {
		t.Fatalf("expected at least %s for %d calls, got %s", min, n, elapsed)
	}
}

func TestWorkersAreIndependent(t *testing.T) {
	l := New(map[string]int{"synthesis": 1, "compliance": 1})
	ctx := context.Background()
	if err := l.Acquire(ctx, "synthesis"); err != nil {
		t.Fatalf("acquire synthesis: %v", err)
	}
	start := time.Now()
	if err := l.Acquire(ctx, "compliance"); err != nil {
		t.Fatalf("acquire compliance: %v", err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Fatalf("compliance should not wait on synthesis")
	}
}

func TestUnlimitedWorkerDoesNotBlock(t *testing.T) {
	l := New(map[string]int{"export": 0})
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 100; i++ {
		if err := l.Acquire(ctx, "export"); err != nil {
			t.Fatalf("acquire: %v", err)
		}
		if err := l.Acquire(ctx, "unknown"); err != nil {
			t.Fatalf("acquire unknown: %v", err)
		}
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatalf("unlimited workers should not be delayed")
	}
}

func TestAcquireHonoursContext(t *testing.T) {
	l := New(map[string]int{"web_search": 1})
	if err := l.Acquire(context.Background(), "web_search"); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx, "web_search"); err == nil {
		t.Fatalf("expected context error while waiting a full minute")
	}
}

func TestAcquireConcurrentSafe(t *testing.T) {
	l := New(map[string]int{"retrieval": 6000})
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(context.Background(), "retrieval"); err != nil {
				t.Errorf("acquire: %v", err)
			}
		}()
	}
	wg.Wait()
}
