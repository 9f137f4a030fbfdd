package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/dfontaine/qqq-spread-bot/internal/clock"
)

// stepClock advances virtual time by one step on every read, so one
// loop tick corresponds to one second of schedule time regardless of
// the real ticker interval.
type stepClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(c.step)
	return c.t
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func newTestScheduler(t *testing.T, start time.Time, end clock.TimeOfDay) *Scheduler {
	t.Helper()
	et := time.FixedZone("ET", -4*60*60)
	// The first Now() already advances, so back off one step.
	clk := &stepClock{t: start.Add(-time.Second), step: time.Second}
	svc := clock.NewServiceInZones(clk, et, time.UTC)

	s := New(svc, log.New(testWriter{t}, "", 0), end)
	s.tick = time.Millisecond // fast real ticks, 1 s virtual steps
	return s
}

func et(hour, min, sec int) time.Time {
	zone := time.FixedZone("ET", -4*60*60)
	return time.Date(2024, 3, 15, hour, min, sec, 0, zone)
}

func TestAtJobFiresOnceThenLoopEnds(t *testing.T) {
	s := newTestScheduler(t, et(9, 30, 58), clock.TimeOfDay{Hour: 9, Minute: 32})

	var fired int
	s.At(clock.NewTimeOfDay(9, 31), "entry", func(context.Context) error {
		fired++
		return nil
	})

	if err := s.Loop(context.Background()); err != nil {
		t.Fatalf("Loop: %v", err)
	}
	if fired != 1 {
		t.Fatalf("job fired %d times, want 1", fired)
	}
}

func TestLateStartSkipsMissedAtJob(t *testing.T) {
	s := newTestScheduler(t, et(12, 0, 0), clock.TimeOfDay{Hour: 12, Minute: 0, Second: 10})

	var fired int
	s.At(clock.NewTimeOfDay(9, 31), "entry", func(context.Context) error {
		fired++
		return nil
	})

	if err := s.Loop(context.Background()); err != nil {
		t.Fatalf("Loop: %v", err)
	}
	if fired != 0 {
		t.Fatalf("missed job fired %d times, want 0", fired)
	}
}

func TestStartPastEndTerminatesWithoutRunning(t *testing.T) {
	s := newTestScheduler(t, et(16, 31, 0), clock.TimeOfDay{Hour: 16, Minute: 30})

	var fired int
	s.At(clock.NewTimeOfDay(9, 31), "entry", func(context.Context) error {
		fired++
		return nil
	})
	s.Every(time.Second, "monitor", func(context.Context) error {
		fired++
		return nil
	})

	if err := s.Loop(context.Background()); err != nil {
		t.Fatalf("Loop: %v", err)
	}
	if fired != 0 {
		t.Fatalf("jobs ran %d times past end of program, want 0", fired)
	}
}

func TestIntervalJobRespectsWindow(t *testing.T) {
	s := newTestScheduler(t, et(9, 34, 50), clock.TimeOfDay{Hour: 9, Minute: 36})

	var inWindow, outWindow int
	s.EveryWithin(5*time.Second, Window{
		Start: clock.NewTimeOfDay(9, 35),
		End:   clock.TimeOfDay{Hour: 9, Minute: 35, Second: 30},
	}, "monitor", func(context.Context) error {
		inWindow++
		return nil
	})
	s.EveryWithin(time.Second, Window{
		Start: clock.NewTimeOfDay(10, 0),
		End:   clock.NewTimeOfDay(10, 5),
	}, "never", func(context.Context) error {
		outWindow++
		return nil
	})

	if err := s.Loop(context.Background()); err != nil {
		t.Fatalf("Loop: %v", err)
	}
	// Due at 9:35:00 then every 5 s until 9:35:30 inclusive: 7 runs.
	if inWindow != 7 {
		t.Errorf("in-window runs = %d, want 7", inWindow)
	}
	if outWindow != 0 {
		t.Errorf("out-of-window runs = %d, want 0", outWindow)
	}
}

func TestJobErrorStopsLoop(t *testing.T) {
	s := newTestScheduler(t, et(9, 30, 58), clock.TimeOfDay{Hour: 16, Minute: 30})

	boom := errors.New("brokerage down")
	s.At(clock.NewTimeOfDay(9, 31), "entry", func(context.Context) error {
		return boom
	})

	err := s.Loop(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("Loop error = %v, want wrapped job error", err)
	}
}

func TestContextCancelStopsLoop(t *testing.T) {
	s := newTestScheduler(t, et(9, 30, 0), clock.TimeOfDay{Hour: 16, Minute: 30})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Loop(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Loop error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("loop did not stop after cancellation")
	}
}
