// Package clock resolves "now" in the market's reference timezone and
// converts schedule-of-day boundaries between the reference zone and the
// process-local clock. All strategy and monitoring code reads time through
// this package so tests can inject a fixed clock.
package clock

import (
	"fmt"
	"time"
)

// DateKeyLayout is the on-disk date key format (DDMMYYYY) shared by the
// reference price store and the order ledger.
const DateKeyLayout = "02012006"

// Clock abstracts the wall clock.
type Clock interface {
	Now() time.Time
}

// WallClock is the production Clock backed by time.Now.
type WallClock struct{}

// Now returns the current wall-clock time.
func (WallClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant. Test helper.
type FixedClock struct {
	T time.Time
}

// Now returns the fixed instant.
func (f FixedClock) Now() time.Time { return f.T }

// TimeOfDay is a wall-clock time within a day, ignoring the date.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

// NewTimeOfDay builds a TimeOfDay from hour and minute.
func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay{Hour: hour, Minute: minute}
}

// seconds returns the offset from midnight in seconds.
func (t TimeOfDay) seconds() int {
	return t.Hour*3600 + t.Minute*60 + t.Second
}

// Before reports whether t is strictly earlier in the day than other.
func (t TimeOfDay) Before(other TimeOfDay) bool { return t.seconds() < other.seconds() }

// After reports whether t is strictly later in the day than other.
func (t TimeOfDay) After(other TimeOfDay) bool { return t.seconds() > other.seconds() }

// String formats the time-of-day as HH:MM:SS.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// Service converts wall-clock reads into the reference timezone.
type Service struct {
	clock    Clock
	refZone  *time.Location
	procZone *time.Location
}

// NewService creates a Service for the given reference timezone name.
// An unknown or empty name falls back to America/New_York, then to a
// DST-agnostic fixed ET zone for minimal containers without tzdata.
func NewService(clk Clock, timezone string) *Service {
	if clk == nil {
		clk = WallClock{}
	}
	if timezone == "" {
		timezone = "America/New_York"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		if fallback, err2 := time.LoadLocation("America/New_York"); err2 == nil {
			loc = fallback
		} else {
			loc = time.FixedZone("ET", -5*60*60)
		}
	}
	return &Service{clock: clk, refZone: loc, procZone: time.Local}
}

// NewServiceInZones builds a Service with explicit reference and process
// zones. Tests use this to pin the local zone.
func NewServiceInZones(clk Clock, refZone, procZone *time.Location) *Service {
	if clk == nil {
		clk = WallClock{}
	}
	return &Service{clock: clk, refZone: refZone, procZone: procZone}
}

// Location returns the reference timezone.
func (s *Service) Location() *time.Location { return s.refZone }

// NowInReferenceZone returns the current time converted into the reference
// zone, decomposed into a DDMMYYYY date key, the date itself, and the
// time-of-day component used for schedule comparisons.
func (s *Service) NowInReferenceZone() (string, time.Time, TimeOfDay) {
	now := s.clock.Now().In(s.refZone)
	tod := TimeOfDay{Hour: now.Hour(), Minute: now.Minute(), Second: now.Second()}
	return now.Format(DateKeyLayout), now, tod
}

// Today returns today's date in the reference zone.
func (s *Service) Today() time.Time {
	return s.clock.Now().In(s.refZone)
}

// DateKey formats t in the reference zone as a DDMMYYYY key.
func (s *Service) DateKey(t time.Time) string {
	return t.In(s.refZone).Format(DateKeyLayout)
}

// DateKeyDaysAgo returns the DDMMYYYY key for the reference-zone date the
// given number of days in the past.
func (s *Service) DateKeyDaysAgo(days int) string {
	return s.clock.Now().In(s.refZone).AddDate(0, 0, -days).Format(DateKeyLayout)
}

// ToLocalScheduleString converts an hour/minute expressed in the reference
// zone into the equivalent "HH:MM" string on the process-local clock,
// using the current fixed offset difference between the two zones.
func (s *Service) ToLocalScheduleString(hour, minute int) string {
	now := s.clock.Now()
	_, refOffset := now.In(s.refZone).Zone()
	_, localOffset := now.In(s.procZone).Zone()
	shift := time.Duration(localOffset-refOffset) * time.Second

	t := time.Date(0, time.January, 1, hour, minute, 0, 0, time.UTC).Add(shift)
	return t.Format("15:04")
}
