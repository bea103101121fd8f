package followup

import (
	"fmt"
	"math/rand"
	"time"
)

// Window is the daily local-time interval during which outbound texts
// may go out. Zero value is unusable; build one with ParseWindow.
type Window struct {
	startHour, startMin int
	endHour, endMin     int
	loc                 *time.Location
}

// ParseWindow builds a window from "HH:MM" bounds and an IANA timezone
// name. End must come after start within one day.
func ParseWindow(start, end, tz string) (Window, error) {
	var w Window
	var err error
	if w.startHour, w.startMin, err = parseClock(start); err != nil {
		return Window{}, fmt.Errorf("send window start: %w", err)
	}
	if w.endHour, w.endMin, err = parseClock(end); err != nil {
		return Window{}, fmt.Errorf("send window end: %w", err)
	}
	if w.endHour*60+w.endMin <= w.startHour*60+w.startMin {
		return Window{}, fmt.Errorf("send window end %s must be after start %s", end, start)
	}
	if w.loc, err = time.LoadLocation(tz); err != nil {
		return Window{}, fmt.Errorf("send window timezone: %w", err)
	}
	return w, nil
}

func parseClock(s string) (hour, minute int, err error) {
	if _, err = fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("invalid clock time %q", s)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("clock time %q out of range", s)
	}
	return hour, minute, nil
}

// Location returns the window's timezone.
func (w Window) Location() *time.Location { return w.loc }

// StartOn returns the window's opening instant on t's calendar day,
// evaluated in the window's timezone.
func (w Window) StartOn(t time.Time) time.Time {
	local := t.In(w.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), w.startHour, w.startMin, 0, 0, w.loc)
}

// EndOn returns the window's closing instant on t's calendar day.
func (w Window) EndOn(t time.Time) time.Time {
	local := t.In(w.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), w.endHour, w.endMin, 0, 0, w.loc)
}

// Contains reports whether t falls inside the window on its own day.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.StartOn(t)) && !t.After(w.EndOn(t))
}

// Clamp returns the earliest in-window instant at or after t: t itself
// when already inside, today's start when before it, and tomorrow's
// start when past today's end. It never moves backward.
func (w Window) Clamp(t time.Time) time.Time {
	start, end := w.StartOn(t), w.EndOn(t)
	switch {
	case t.Before(start):
		return start
	case t.After(end):
		return w.StartOn(start.AddDate(0, 0, 1))
	default:
		return t
	}
}

// JitterAfter picks a uniformly random instant inside the window on t's
// day, never earlier than t. When t is already past the day's window it
// falls through to Clamp, landing on the next day's start.
func (w Window) JitterAfter(t time.Time, rnd *rand.Rand) time.Time {
	end := w.EndOn(t)
	if t.After(end) {
		return w.Clamp(t)
	}
	low := w.StartOn(t)
	if t.After(low) {
		low = t
	}
	span := end.Sub(low)
	if span <= 0 {
		return low
	}
	return low.Add(time.Duration(rnd.Int63n(int64(span) + 1)))
}
