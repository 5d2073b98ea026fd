// Package clock provides the scheduler's single source of wall-clock time
// and cron-like trigger evaluation. No other package in this module calls
// time.Now directly; everything that needs "now" takes a Clock.
package clock

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Clock abstracts current time and market-session classification so tests
// can drive virtual time instead of sleeping on the real clock.
type Clock interface {
	Now() time.Time
	InSession(t time.Time) bool
	SessionBounds(day time.Time) (open, close time.Time)
	NextFire(spec string, after time.Time) (time.Time, error)
}

// SessionWindow is the exchange's civil trading-session window, e.g. 09:15-15:30 IST.
type SessionWindow struct {
	Location      *time.Location
	OpenHour      int
	OpenMinute    int
	CloseHour     int
	CloseMinute   int
	TradingWeekday func(time.Weekday) bool
}

// DefaultSessionWindow mirrors NSE/BSE cash-market hours in IST.
func DefaultSessionWindow() SessionWindow {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		loc = time.FixedZone("IST", 5*3600+30*60)
	}
	return SessionWindow{
		Location:    loc,
		OpenHour:    9,
		OpenMinute:  15,
		CloseHour:   15,
		CloseMinute: 30,
		TradingWeekday: func(d time.Weekday) bool {
			return d != time.Saturday && d != time.Sunday
		},
	}
}

// RealClock is the production Clock: it reads the real wall clock and
// interprets trigger specs in the configured session window's timezone.
type RealClock struct {
	window SessionWindow

	mu       sync.Mutex
	parsed   map[string]cron.Schedule
	parser   cron.Parser
}

// NewRealClock builds a Clock bound to the given exchange session window.
func NewRealClock(window SessionWindow) *RealClock {
	return &RealClock{
		window: window,
		parsed: make(map[string]cron.Schedule),
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// Now returns the current wall-clock time.
func (c *RealClock) Now() time.Time { return time.Now() }

// InSession reports whether t falls within the exchange's trading session
// on a trading weekday.
func (c *RealClock) InSession(t time.Time) bool {
	local := t.In(c.window.Location)
	if !c.window.TradingWeekday(local.Weekday()) {
		return false
	}
	open, close := c.SessionBounds(local)
	return !local.Before(open) && local.Before(close)
}

// SessionBounds returns the open/close instants for the session-day
// containing day, in the exchange's civil timezone.
func (c *RealClock) SessionBounds(day time.Time) (time.Time, time.Time) {
	local := day.In(c.window.Location)
	open := time.Date(local.Year(), local.Month(), local.Day(), c.window.OpenHour, c.window.OpenMinute, 0, 0, c.window.Location)
	close := time.Date(local.Year(), local.Month(), local.Day(), c.window.CloseHour, c.window.CloseMinute, 0, 0, c.window.Location)
	return open, close
}

// NextFire computes the next time a standard 5-field cron expression fires
// after the given instant, interpreted in the exchange's civil timezone.
// Only parsing/scheduling math is borrowed from robfig/cron — this Clock
// never starts robfig/cron's own goroutine-driven runner, since that would
// reintroduce an un-injectable wall-clock dependency.
func (c *RealClock) NextFire(spec string, after time.Time) (time.Time, error) {
	c.mu.Lock()
	sched, ok := c.parsed[spec]
	c.mu.Unlock()
	if !ok {
		var err error
		sched, err = c.parser.Parse(spec)
		if err != nil {
			return time.Time{}, fmt.Errorf("clock: invalid trigger spec %q: %w", spec, err)
		}
		c.mu.Lock()
		c.parsed[spec] = sched
		c.mu.Unlock()
	}
	local := after.In(c.window.Location)
	return sched.Next(local), nil
}
