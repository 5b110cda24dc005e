package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestScheduler_RunsJobsOnInterval(t *testing.T) {
	s := New(zerolog.Nop())
	var runs atomic.Int32
	s.Register(Job{
		Name:     "tick",
		Interval: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	s.Start(context.Background())
	time.Sleep(60 * time.Millisecond)
	s.Stop()

	if n := runs.Load(); n < 2 {
		t.Errorf("runs = %d, want at least 2", n)
	}
}

func TestScheduler_StopIsClean(t *testing.T) {
	s := New(zerolog.Nop())
	var runs atomic.Int32
	s.Register(Job{
		Name:     "tick",
		Interval: 5 * time.Millisecond,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	s.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	s.Stop()

	after := runs.Load()
	time.Sleep(30 * time.Millisecond)
	if runs.Load() != after {
		t.Error("jobs must not run after Stop returns")
	}
}

func TestScheduler_FailingJobKeepsRunning(t *testing.T) {
	s := New(zerolog.Nop())
	var runs atomic.Int32
	s.Register(Job{
		Name:     "flaky",
		Interval: 5 * time.Millisecond,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return errors.New("boom")
		},
	})

	s.Start(context.Background())
	time.Sleep(40 * time.Millisecond)
	s.Stop()

	if n := runs.Load(); n < 3 {
		t.Errorf("runs = %d, a failing job should still be retried", n)
	}
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	s := New(zerolog.Nop())
	s.Stop() // must not panic or hang
}
