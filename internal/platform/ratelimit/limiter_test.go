package ratelimit

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestLimiter(start time.Time) (*Limiter, *time.Time) {
	clock := start
	l := New(zerolog.Nop())
	l.now = func() time.Time { return clock }
	return l, &clock
}

func TestCheck_AllowsUpToLimit(t *testing.T) {
	l, _ := newTestLimiter(time.Now())
	p := Profile{Name: "T", Window: time.Minute, MaxRequests: 3}

	for i := 0; i < 3; i++ {
		r := l.Check(p, "k")
		if !r.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
		if r.Remaining != 3-(i+1) {
			t.Errorf("request %d: remaining = %d, want %d", i+1, r.Remaining, 3-(i+1))
		}
	}
	if r := l.Check(p, "k"); r.Allowed {
		t.Error("request past the limit should be denied")
	}
}

func TestCheck_WindowReset(t *testing.T) {
	l, clock := newTestLimiter(time.Now())
	p := Profile{Name: "T", Window: time.Minute, MaxRequests: 1}

	if r := l.Check(p, "k"); !r.Allowed {
		t.Fatal("first request should be allowed")
	}
	if r := l.Check(p, "k"); r.Allowed {
		t.Fatal("second request in window should be denied")
	}

	*clock = clock.Add(time.Minute)
	if r := l.Check(p, "k"); !r.Allowed {
		t.Error("request in a new window should be allowed")
	}
}

func TestCheck_BlockEscalation(t *testing.T) {
	start := time.Now()
	l, clock := newTestLimiter(start)
	p := Profile{Name: "T", Window: time.Minute, MaxRequests: 1, BlockFor: 5 * time.Minute}

	l.Check(p, "k")
	r := l.Check(p, "k")
	if r.Allowed {
		t.Fatal("over-limit request should be denied")
	}
	if !l.IsBlocked("k") {
		t.Fatal("key should be blocked after exceeding a blocking profile")
	}
	if want := start.Add(5 * time.Minute); !r.ResetAt.Equal(want) {
		t.Errorf("ResetAt = %v, want %v", r.ResetAt, want)
	}

	// The block outlives the window boundary.
	*clock = clock.Add(2 * time.Minute)
	if r := l.Check(p, "k"); r.Allowed {
		t.Error("blocked key should stay denied past the window edge")
	}

	// Block expiry readmits traffic with a fresh counter.
	*clock = start.Add(5*time.Minute + time.Second)
	if r := l.Check(p, "k"); !r.Allowed {
		t.Error("key should be readmitted once the block expires")
	}
}

func TestCheck_NonBlockingProfileNeverBlocks(t *testing.T) {
	l, _ := newTestLimiter(time.Now())
	p := Profile{Name: "T", Window: time.Minute, MaxRequests: 1}

	l.Check(p, "k")
	l.Check(p, "k")
	if l.IsBlocked("k") {
		t.Error("profile without BlockFor must not escalate to a block")
	}
}

func TestCheck_KeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(time.Now())
	p := Profile{Name: "T", Window: time.Minute, MaxRequests: 1}

	l.Check(p, "a")
	l.Check(p, "a")
	if r := l.Check(p, "b"); !r.Allowed {
		t.Error("exhausting one key must not affect another")
	}
}

func TestCheckIP_Ceiling(t *testing.T) {
	l, _ := newTestLimiter(time.Now())
	for i := 0; i < ipCeiling.MaxRequests; i++ {
		if r := l.CheckIP("10.0.0.1"); !r.Allowed {
			t.Fatalf("request %d under ceiling should pass", i+1)
		}
	}
	r := l.CheckIP("10.0.0.1")
	if r.Allowed {
		t.Fatal("request over the address ceiling should be denied")
	}
	if !l.IsBlocked("ip:10.0.0.1") {
		t.Error("exceeding the ceiling should block the address")
	}
}

func TestBuildKey(t *testing.T) {
	if got := BuildKey("10.0.0.1", "u-1", "PHI_ACCESS"); got != "10.0.0.1:u-1:PHI_ACCESS" {
		t.Errorf("BuildKey = %q", got)
	}
	if got := BuildKey("10.0.0.1", "", "AUTH"); got != "10.0.0.1:anonymous:AUTH" {
		t.Errorf("anonymous BuildKey = %q", got)
	}
}

func TestUnblock(t *testing.T) {
	l, _ := newTestLimiter(time.Now())
	p := Profile{Name: "T", Window: time.Minute, MaxRequests: 1, BlockFor: time.Hour}

	l.Check(p, "k")
	l.Check(p, "k")
	if !l.IsBlocked("k") {
		t.Fatal("setup: key should be blocked")
	}

	l.Unblock("k")
	if l.IsBlocked("k") {
		t.Error("Unblock should lift the block")
	}
	if r := l.Check(p, "k"); !r.Allowed {
		t.Error("key should count from zero after Unblock")
	}
}

func TestStatus(t *testing.T) {
	l, _ := newTestLimiter(time.Now())
	p := Profile{Name: "T", Window: time.Minute, MaxRequests: 10}

	if _, _, ok := l.Status("k"); ok {
		t.Error("unknown key should report no status")
	}

	before, _, _ := l.Status("k")
	l.Check(p, "k")
	l.Check(p, "k")
	count, _, ok := l.Status("k")
	if !ok || count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
	after, _, _ := l.Status("k")
	if before != 0 || after != count {
		t.Error("Status must not consume requests")
	}
}

func TestSweep(t *testing.T) {
	start := time.Now()
	l, clock := newTestLimiter(start)
	p := Profile{Name: "T", Window: time.Minute, MaxRequests: 100}
	blocking := Profile{Name: "B", Window: time.Minute, MaxRequests: 1, BlockFor: time.Hour}

	for i := 0; i < 5; i++ {
		l.Check(p, fmt.Sprintf("stale-%d", i))
	}
	l.Check(blocking, "blocked")
	l.Check(blocking, "blocked")

	*clock = start.Add(retention + time.Minute)
	removed := l.Sweep()
	if removed != 5 {
		t.Errorf("removed = %d, want 5", removed)
	}
	if !l.IsBlocked("blocked") {
		t.Error("an active block must survive the sweep")
	}
}
