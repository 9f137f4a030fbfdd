// Package scheduler runs the trading day: a single-threaded 1 s tick
// loop that fires time-of-day jobs once per day and interval jobs
// inside optional time windows, then terminates at the end-of-program
// time. All schedule comparisons happen in the reference timezone.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/dfontaine/qqq-spread-bot/internal/clock"
)

// JobFunc is one schedulable unit of work.
type JobFunc func(ctx context.Context) error

// Window bounds an interval job to a time-of-day range, inclusive.
type Window struct {
	Start clock.TimeOfDay
	End   clock.TimeOfDay
}

func (w Window) contains(tod clock.TimeOfDay) bool {
	return !tod.Before(w.Start) && !tod.After(w.End)
}

type job struct {
	name string
	fn   JobFunc

	// at-job state: fires at most once per reference-zone day.
	at           *clock.TimeOfDay
	lastFiredDay string

	// interval-job state.
	every   time.Duration
	window  *Window
	lastRun time.Time
}

// Scheduler owns the tick loop and its registered jobs.
type Scheduler struct {
	clock  *clock.Service
	logger *log.Logger
	end    clock.TimeOfDay
	jobs   []*job

	tick          time.Duration
	heartbeat     time.Duration
	lastHeartbeat time.Time
}

// New creates a Scheduler that terminates once the reference-zone
// time-of-day reaches end.
func New(clk *clock.Service, logger *log.Logger, end clock.TimeOfDay) *Scheduler {
	if logger == nil {
		logger = log.New(os.Stderr, "scheduler: ", log.LstdFlags)
	}
	return &Scheduler{
		clock:     clk,
		logger:    logger,
		end:       end,
		tick:      time.Second,
		heartbeat: 5 * time.Minute,
	}
}

// At registers a job that fires once per day when the reference-zone
// time-of-day reaches t. A job whose time already passed when the loop
// starts is skipped for that day, not fired late.
func (s *Scheduler) At(t clock.TimeOfDay, name string, fn JobFunc) {
	s.jobs = append(s.jobs, &job{name: name, fn: fn, at: &t})
}

// Every registers a job that fires each time d has elapsed since its
// previous run.
func (s *Scheduler) Every(d time.Duration, name string, fn JobFunc) {
	s.jobs = append(s.jobs, &job{name: name, fn: fn, every: d})
}

// EveryWithin registers an interval job gated to a time-of-day window;
// outside the window the job is silently skipped.
func (s *Scheduler) EveryWithin(d time.Duration, w Window, name string, fn JobFunc) {
	s.jobs = append(s.jobs, &job{name: name, fn: fn, every: d, window: &w})
}

// Loop ticks until the end-of-program time, running due jobs
// sequentially on each tick. A job error stops the loop and is
// returned; there is no restart. Context cancellation returns ctx.Err().
func (s *Scheduler) Loop(ctx context.Context) error {
	s.armPastJobs()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		dateKey, now, tod := s.clock.NowInReferenceZone()
		if !tod.Before(s.end) {
			s.logger.Printf("end of program at %s, stopping", tod)
			return nil
		}
		s.beat(now, tod)

		if err := s.runDue(ctx, dateKey, now, tod); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// armPastJobs marks at-jobs already past due as fired for today so a
// late process start does not trade hours after its slot.
func (s *Scheduler) armPastJobs() {
	dateKey, _, tod := s.clock.NowInReferenceZone()
	for _, j := range s.jobs {
		if j.at != nil && !tod.Before(*j.at) {
			s.logger.Printf("job %s scheduled for %s already passed, skipping today", j.name, j.at)
			j.lastFiredDay = dateKey
		}
	}
}

func (s *Scheduler) runDue(ctx context.Context, dateKey string, now time.Time, tod clock.TimeOfDay) error {
	for _, j := range s.jobs {
		switch {
		case j.at != nil:
			if j.lastFiredDay == dateKey || tod.Before(*j.at) {
				continue
			}
			j.lastFiredDay = dateKey
		default:
			if j.window != nil && !j.window.contains(tod) {
				continue
			}
			if !j.lastRun.IsZero() && now.Sub(j.lastRun) < j.every {
				continue
			}
			j.lastRun = now
		}

		if err := j.fn(ctx); err != nil {
			s.logger.Printf("job %s failed: %v", j.name, err)
			return fmt.Errorf("job %s: %w", j.name, err)
		}
	}
	return nil
}

func (s *Scheduler) beat(now time.Time, tod clock.TimeOfDay) {
	if !s.lastHeartbeat.IsZero() && now.Sub(s.lastHeartbeat) < s.heartbeat {
		return
	}
	s.lastHeartbeat = now
	s.logger.Printf("tick %s, %d jobs registered", tod, len(s.jobs))
}
