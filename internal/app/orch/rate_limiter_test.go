package orch

import (
	"fmt"
	"testing"
	"time"

	"github.com/dkeye/Call/internal/core"
)

func coreSID(s string) core.SessionID { return core.SessionID(s) }

func TestStartRateLimiterWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewStartRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("first two attempts denied")
	}
	if rl.Allow("a") {
		t.Error("third attempt in window allowed")
	}
	if !rl.Allow("b") {
		t.Error("limit leaked across views")
	}

	now = now.Add(61 * time.Second)
	if !rl.Allow("a") {
		t.Error("attempt after window denied")
	}
}

func TestStartRateLimiterDisabled(t *testing.T) {
	rl := NewStartRateLimiter(0, time.Minute)
	for i := 0; i < 100; i++ {
		if !rl.Allow("a") {
			t.Fatalf("attempt %d denied with limit 0", i)
		}
	}
}

func TestStartRateLimiterPrune(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewStartRateLimiter(3, time.Minute)
	rl.now = func() time.Time { return now }

	for i := 0; i < 1000; i++ {
		rl.Allow(coreSID(fmt.Sprintf("x-%d", i)))
	}
	if rl.Len() != 1000 {
		t.Fatalf("len = %d, want 1000", rl.Len())
	}

	now = now.Add(30 * time.Second)
	rl.Allow("recent")
	if pruned := rl.Prune(); pruned != 0 {
		t.Errorf("pruned %d keys inside the window", pruned)
	}

	now = now.Add(45 * time.Second)
	if pruned := rl.Prune(); pruned != 1000 {
		t.Errorf("pruned = %d, want 1000", pruned)
	}
	if rl.Len() != 1 {
		t.Errorf("len = %d, want only the recent key", rl.Len())
	}
}
