package httpapi

import (
	"fmt"
	"time"

	"github.com/nbassil/dialdispatch/internal/hours"
	"github.com/nbassil/dialdispatch/internal/policy"
)

// ConfigView is the wire form of the runtime policy. Durations are Go
// duration strings ("30m", "4h") so operators never count nanoseconds.
type ConfigView struct {
	MaxAttempts          int          `json:"max_attempts"`
	MaxDailyAttempts     int          `json:"max_daily_attempts"`
	ProgressiveIntervals []string     `json:"progressive_intervals"`
	MaxCallsPerSecond    float64      `json:"max_calls_per_second"`
	SameNumberInterval   string       `json:"same_number_interval"`
	TickInterval         string       `json:"tick_interval"`
	BatchSize            int          `json:"batch_size"`
	IdentityWindow       string       `json:"identity_window"`
	CooldownThreshold    int          `json:"cooldown_threshold"`
	CooldownPeriod       string       `json:"cooldown_period"`
	MinAvailable         int          `json:"min_available"`
	LeadAffinityTTL      string       `json:"lead_affinity_ttl"`
	StaleCallMaxAge      string       `json:"stale_call_max_age"`
	ResolvedRetention    string       `json:"resolved_retention"`
	Hours                hours.Config `json:"hours"`
}

func viewFromPolicy(p policy.Policy) ConfigView {
	intervals := make([]string, len(p.ProgressiveIntervals))
	for i, d := range p.ProgressiveIntervals {
		intervals[i] = d.String()
	}
	return ConfigView{
		MaxAttempts:          p.MaxAttempts,
		MaxDailyAttempts:     p.MaxDailyAttempts,
		ProgressiveIntervals: intervals,
		MaxCallsPerSecond:    p.MaxCallsPerSecond,
		SameNumberInterval:   p.SameNumberInterval.String(),
		TickInterval:         p.TickInterval.String(),
		BatchSize:            p.BatchSize,
		IdentityWindow:       p.IdentityWindow.String(),
		CooldownThreshold:    p.CooldownThreshold,
		CooldownPeriod:       p.CooldownPeriod.String(),
		MinAvailable:         p.MinAvailable,
		LeadAffinityTTL:      p.LeadAffinityTTL.String(),
		StaleCallMaxAge:      p.StaleCallMaxAge.String(),
		ResolvedRetention:    p.ResolvedRetention.String(),
		Hours:                p.Hours,
	}
}

func parseDuration(field, raw string, into *time.Duration) error {
	if raw == "" {
		return nil // absent field keeps the current value
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%s: bad duration %q", field, raw)
	}
	*into = d
	return nil
}

// applyView overlays the view onto p. Scalar zero values and empty strings
// leave the current knob untouched, so a partial document is a partial
// update.
func applyView(v ConfigView, p *policy.Policy) error {
	if v.MaxAttempts > 0 {
		p.MaxAttempts = v.MaxAttempts
	}
	if v.MaxDailyAttempts > 0 {
		p.MaxDailyAttempts = v.MaxDailyAttempts
	}
	if len(v.ProgressiveIntervals) > 0 {
		intervals := make([]time.Duration, len(v.ProgressiveIntervals))
		for i, raw := range v.ProgressiveIntervals {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return fmt.Errorf("progressive_intervals[%d]: bad duration %q", i, raw)
			}
			intervals[i] = d
		}
		p.ProgressiveIntervals = intervals
	}
	if v.MaxCallsPerSecond > 0 {
		p.MaxCallsPerSecond = v.MaxCallsPerSecond
	}
	if err := parseDuration("same_number_interval", v.SameNumberInterval, &p.SameNumberInterval); err != nil {
		return err
	}
	if err := parseDuration("tick_interval", v.TickInterval, &p.TickInterval); err != nil {
		return err
	}
	if v.BatchSize > 0 {
		p.BatchSize = v.BatchSize
	}
	if err := parseDuration("identity_window", v.IdentityWindow, &p.IdentityWindow); err != nil {
		return err
	}
	if v.CooldownThreshold > 0 {
		p.CooldownThreshold = v.CooldownThreshold
	}
	if err := parseDuration("cooldown_period", v.CooldownPeriod, &p.CooldownPeriod); err != nil {
		return err
	}
	if v.MinAvailable > 0 {
		p.MinAvailable = v.MinAvailable
	}
	if err := parseDuration("lead_affinity_ttl", v.LeadAffinityTTL, &p.LeadAffinityTTL); err != nil {
		return err
	}
	if err := parseDuration("stale_call_max_age", v.StaleCallMaxAge, &p.StaleCallMaxAge); err != nil {
		return err
	}
	if err := parseDuration("resolved_retention", v.ResolvedRetention, &p.ResolvedRetention); err != nil {
		return err
	}
	if len(v.Hours.Weekdays) > 0 || v.Hours.Timezone != "" {
		p.Hours = v.Hours
	}
	return nil
}
