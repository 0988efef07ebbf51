// Package clock wraps jonboulle/clockwork so every civil-date computation
// in the engine (today's date, deadline checks, "is it past lock time")
// goes through one injectable, fakeable seam instead of calling time.Now
// directly, mirroring how the teacher injects its coordinator/store rather
// than reaching for package-level singletons.
package clock

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// DateLayout is the civil-date key format used throughout the engine:
// Quiz.Date, Attempt.Date, Payment.Date, Winner.Date.
const DateLayout = "2006-01-02"

// Calendar resolves "today" and named deadlines against a single IANA zone,
// so every component agrees on which civil day a given instant belongs to
// regardless of the host machine's local zone.
type Calendar struct {
	Clock clockwork.Clock
	Zone  *time.Location
}

// NewCalendar builds a Calendar for the given IANA zone name (e.g.
// "Asia/Kolkata"), using the real wall clock.
func NewCalendar(zoneName string) (*Calendar, error) {
	loc, err := time.LoadLocation(zoneName)
	if err != nil {
		return nil, err
	}
	return &Calendar{Clock: clockwork.NewRealClock(), Zone: loc}, nil
}

// NewFakeCalendar builds a Calendar backed by a clockwork.FakeClock for
// tests, pinned to the given zone.
func NewFakeCalendar(zoneName string, start time.Time) (*Calendar, clockwork.FakeClock, error) {
	loc, err := time.LoadLocation(zoneName)
	if err != nil {
		return nil, nil, err
	}
	fc := clockwork.NewFakeClockAt(start)
	return &Calendar{Clock: fc, Zone: loc}, fc, nil
}

// Now returns the current instant.
func (c *Calendar) Now() time.Time {
	return c.Clock.Now()
}

// Today returns the civil date key ("YYYY-MM-DD") for the current instant
// in the calendar's zone.
func (c *Calendar) Today() string {
	return c.Clock.Now().In(c.Zone).Format(DateLayout)
}

// DateOf returns the civil date key for an arbitrary instant, in the
// calendar's zone.
func (c *Calendar) DateOf(t time.Time) string {
	return t.In(c.Zone).Format(DateLayout)
}

// StartOfDay returns the instant midnight begins for the given civil date
// key, in the calendar's zone.
func (c *Calendar) StartOfDay(date string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, date, c.Zone)
}

// AtTimeOfDay returns the instant hour:minute:second occurs on the given
// civil date, in the calendar's zone — used to compute the fixed daily
// deadlines (lock time, payment-close time, go-live time).
func (c *Calendar) AtTimeOfDay(date string, hour, minute, second int) (time.Time, error) {
	start, err := c.StartOfDay(date)
	if err != nil {
		return time.Time{}, err
	}
	return start.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute + time.Duration(second)*time.Second), nil
}

// Deadlines holds the fixed instants that drive the Scheduler's daily
// advancement of a single Quiz through its lifecycle.
type Deadlines struct {
	ScheduledAt time.Time // quiz created/visible
	LockedAt    time.Time // question set frozen, no further edits
	PaymentCloseAt time.Time // payment window closes
	LiveAt      time.Time // quiz opens for admission and play
	EndAt       time.Time // quiz stops accepting answers
}

// DeadlinesForToday computes the fixed daily schedule for date using the
// configured offsets (hour, minute) in the calendar's zone.
func (c *Calendar) DeadlinesForToday(date string, lockHH, lockMM, payCloseHH, payCloseMM, liveHH, liveMM, endHH, endMM int) (Deadlines, error) {
	scheduled, err := c.AtTimeOfDay(date, 0, 0, 0)
	if err != nil {
		return Deadlines{}, err
	}
	locked, err := c.AtTimeOfDay(date, lockHH, lockMM, 0)
	if err != nil {
		return Deadlines{}, err
	}
	payClose, err := c.AtTimeOfDay(date, payCloseHH, payCloseMM, 0)
	if err != nil {
		return Deadlines{}, err
	}
	live, err := c.AtTimeOfDay(date, liveHH, liveMM, 0)
	if err != nil {
		return Deadlines{}, err
	}
	end, err := c.AtTimeOfDay(date, endHH, endMM, 0)
	if err != nil {
		return Deadlines{}, err
	}
	return Deadlines{
		ScheduledAt:    scheduled,
		LockedAt:       locked,
		PaymentCloseAt: payClose,
		LiveAt:         live,
		EndAt:          end,
	}, nil
}
