package hours

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func weekdayConfig() Config {
	return Config{
		Enabled:     true,
		Timezone:    "America/New_York",
		Weekdays:    []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		StartMinute: 9 * 60,  // 09:00
		EndMinute:   20 * 60, // 20:00
	}
}

// localTime builds an instant in the config's zone.
func localTime(t *testing.T, cfg Config, y int, m time.Month, d, hh, mm int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation(cfg.Timezone)
	require.NoError(t, err)
	return time.Date(y, m, d, hh, mm, 0, 0, loc)
}

func TestIsActive_Disabled(t *testing.T) {
	cfg := weekdayConfig()
	cfg.Enabled = false
	assert.True(t, cfg.IsActive(time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC)))
}

func TestIsActive_Boundaries(t *testing.T) {
	cfg := weekdayConfig()

	// 2026-03-04 is a Wednesday.
	assert.True(t, cfg.IsActive(localTime(t, cfg, 2026, 3, 4, 9, 0)), "exactly at open is active")
	assert.False(t, cfg.IsActive(localTime(t, cfg, 2026, 3, 4, 8, 59)), "one minute before open")
	assert.False(t, cfg.IsActive(localTime(t, cfg, 2026, 3, 4, 20, 0)), "exactly at close is inactive")
	assert.True(t, cfg.IsActive(localTime(t, cfg, 2026, 3, 4, 19, 59)), "one minute before close")
}

func TestIsActive_InactiveWeekday(t *testing.T) {
	cfg := weekdayConfig()
	// 2026-03-07 is a Saturday.
	assert.False(t, cfg.IsActive(localTime(t, cfg, 2026, 3, 7, 12, 0)))
}

func TestIsActive_Blackout(t *testing.T) {
	cfg := weekdayConfig()
	cfg.Blackouts = []string{"2026-03-04"}
	assert.False(t, cfg.IsActive(localTime(t, cfg, 2026, 3, 4, 12, 0)), "blackout wins regardless of time of day")
	assert.True(t, cfg.IsActive(localTime(t, cfg, 2026, 3, 5, 12, 0)))
}

func TestIsActive_TimezoneConversion(t *testing.T) {
	cfg := weekdayConfig()
	// 23:30 UTC Wednesday = 18:30 New York, inside the window.
	assert.True(t, cfg.IsActive(time.Date(2026, 3, 4, 23, 30, 0, 0, time.UTC)))
	// 02:00 UTC Thursday = 21:00 Wednesday New York, after close.
	assert.False(t, cfg.IsActive(time.Date(2026, 3, 5, 2, 0, 0, 0, time.UTC)))
}

func TestNextActiveTime_SameDay(t *testing.T) {
	cfg := weekdayConfig()
	early := localTime(t, cfg, 2026, 3, 4, 6, 30)
	next := cfg.NextActiveTime(early)
	assert.Equal(t, localTime(t, cfg, 2026, 3, 4, 9, 0), next)
}

func TestNextActiveTime_AlreadyActive(t *testing.T) {
	cfg := weekdayConfig()
	now := localTime(t, cfg, 2026, 3, 4, 12, 0)
	assert.Equal(t, now, cfg.NextActiveTime(now))
}

func TestNextActiveTime_AfterClose(t *testing.T) {
	cfg := weekdayConfig()
	lateWed := localTime(t, cfg, 2026, 3, 4, 21, 0)
	assert.Equal(t, localTime(t, cfg, 2026, 3, 5, 9, 0), cfg.NextActiveTime(lateWed))
}

func TestNextActiveTime_SkipsWeekendAndBlackout(t *testing.T) {
	cfg := weekdayConfig()
	cfg.Blackouts = []string{"2026-03-09"} // Monday

	lateFri := localTime(t, cfg, 2026, 3, 6, 20, 30)
	// Saturday/Sunday inactive, Monday blacked out → Tuesday 09:00.
	assert.Equal(t, localTime(t, cfg, 2026, 3, 10, 9, 0), cfg.NextActiveTime(lateFri))
}

func TestValidate(t *testing.T) {
	cfg := weekdayConfig()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.Timezone = "Mars/Olympus"
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.StartMinute = 21 * 60
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Weekdays = nil
	assert.Error(t, bad.Validate())

	disabled := Config{Enabled: false}
	assert.NoError(t, disabled.Validate())
}
