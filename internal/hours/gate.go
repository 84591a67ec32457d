// Package hours implements the compliance calling-window gate. Evaluation is
// a pure function of a Config and a caller-supplied instant, so tests inject
// time instead of sleeping.
package hours

import (
	"fmt"
	"time"
)

// Config describes the permitted local-time calling window.
type Config struct {
	// Enabled false means the gate always passes.
	Enabled bool `json:"enabled"`

	// Timezone is an IANA zone name, e.g. "America/New_York".
	Timezone string `json:"timezone"`

	// Weekdays is the set of active days (time.Weekday values).
	Weekdays []time.Weekday `json:"weekdays"`

	// StartMinute and EndMinute are local minutes from midnight. The window
	// is [StartMinute, EndMinute): the open is inclusive, the close exclusive.
	StartMinute int `json:"start_minute"`
	EndMinute   int `json:"end_minute"`

	// Blackouts are local dates ("2006-01-02") with no calling regardless of
	// time of day.
	Blackouts []string `json:"blackouts,omitempty"`
}

// Validate checks the config is internally coherent.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("hours: bad timezone %q: %w", c.Timezone, err)
	}
	if c.StartMinute < 0 || c.StartMinute >= 24*60 || c.EndMinute <= 0 || c.EndMinute > 24*60 {
		return fmt.Errorf("hours: window minutes out of range [%d,%d)", c.StartMinute, c.EndMinute)
	}
	if c.StartMinute >= c.EndMinute {
		return fmt.Errorf("hours: start %d not before end %d", c.StartMinute, c.EndMinute)
	}
	if len(c.Weekdays) == 0 {
		return fmt.Errorf("hours: no active weekdays")
	}
	return nil
}

func (c Config) location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c Config) weekdayActive(d time.Weekday) bool {
	for _, w := range c.Weekdays {
		if w == d {
			return true
		}
	}
	return false
}

func (c Config) blackedOut(local time.Time) bool {
	day := local.Format("2006-01-02")
	for _, b := range c.Blackouts {
		if b == day {
			return true
		}
	}
	return false
}

// IsActive reports whether outbound dialing is permitted at the given
// instant.
func (c Config) IsActive(now time.Time) bool {
	if !c.Enabled {
		return true
	}
	local := now.In(c.location())
	if !c.weekdayActive(local.Weekday()) {
		return false
	}
	if c.blackedOut(local) {
		return false
	}
	minute := local.Hour()*60 + local.Minute()
	return minute >= c.StartMinute && minute < c.EndMinute
}

// NextActiveTime returns the earliest instant at or after now when the gate
// is open. Used to push a computed next-eligible time that lands outside the
// window forward to the next window open. With the gate disabled it returns
// now unchanged.
func (c Config) NextActiveTime(now time.Time) time.Time {
	if !c.Enabled {
		return now
	}
	if c.IsActive(now) {
		return now
	}
	local := now.In(c.location())

	// Same day, before open: snap forward to today's start.
	minute := local.Hour()*60 + local.Minute()
	if c.weekdayActive(local.Weekday()) && !c.blackedOut(local) && minute < c.StartMinute {
		return dayStart(local, c.StartMinute)
	}

	// Otherwise walk forward day by day to the next active date. Bounded so a
	// pathological config (every date blacked out) cannot spin forever.
	for i := 1; i <= 366; i++ {
		day := local.AddDate(0, 0, i)
		if c.weekdayActive(day.Weekday()) && !c.blackedOut(day) {
			return dayStart(day, c.StartMinute)
		}
	}
	return now
}

func dayStart(local time.Time, startMinute int) time.Time {
	return time.Date(local.Year(), local.Month(), local.Day(),
		startMinute/60, startMinute%60, 0, 0, local.Location())
}
