package engine

import (
	"strings"
	"time"

	"leadpilot/models"
)

// ComputeScheduledTime resolves the absolute instant at which a step
// should fire for an enrollment. All day/time arithmetic runs in loc
// (the tenant's timezone) so fixed clock times and weekday matches do
// not drift across DST boundaries.
func ComputeScheduledTime(step *models.JourneyStep, lj *models.LeadJourney, now time.Time, loc *time.Location) time.Time {
	now = now.In(loc)

	switch step.DelayType {
	case models.DelayFixedTime:
		at := atClock(now, cfgString(step.DelayConfig, "time", "09:00"))
		if !at.After(now) {
			at = at.AddDate(0, 0, 1)
		}
		return at

	case models.DelayAfterPrevious:
		base := now
		if lj.LastExecutionTime != nil {
			base = lj.LastExecutionTime.In(loc)
		} else if lj.StartedAt != nil {
			base = lj.StartedAt.In(loc)
		}
		return addDelay(base, step.DelayConfig)

	case models.DelayAfterEnrollment:
		base := now
		if lj.StartedAt != nil {
			base = lj.StartedAt.In(loc)
		}
		return addDelay(base, step.DelayConfig)

	case models.DelaySpecificDays:
		return nextMatchingWeekday(step.DelayConfig, now)

	case models.DelayImmediate:
		return now
	}

	return now
}

// nextMatchingWeekday finds the next occurrence of the configured
// clock time on any of the configured weekdays, scanning forward up to
// seven days. No match falls back to tomorrow at 09:00.
func nextMatchingWeekday(cfg models.JSONMap, now time.Time) time.Time {
	days := cfgStringList(cfg, "weekdays")
	clock := cfgString(cfg, "time", "09:00")

	allowed := make(map[string]bool, len(days))
	for _, d := range days {
		allowed[strings.ToLower(d)] = true
	}

	for i := 0; i <= 7; i++ {
		candidate := now.AddDate(0, 0, i)
		if !allowed[weekdayKey(candidate.Weekday())] {
			continue
		}
		at := atClock(candidate, clock)
		if at.After(now) {
			return at
		}
	}

	return atClock(now.AddDate(0, 0, 1), "09:00")
}

func addDelay(base time.Time, cfg models.JSONMap) time.Time {
	return base.
		AddDate(0, 0, cfgInt(cfg, "days")).
		Add(time.Duration(cfgInt(cfg, "hours"))*time.Hour +
			time.Duration(cfgInt(cfg, "minutes"))*time.Minute)
}

// JSON numbers decode as float64, so config lookups normalize here.

func cfgInt(cfg models.JSONMap, key string) int {
	switch v := cfg[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func cfgString(cfg models.JSONMap, key, fallback string) string {
	if s, ok := cfg[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

func cfgBool(cfg models.JSONMap, key string) bool {
	b, _ := cfg[key].(bool)
	return b
}

func cfgStringList(cfg models.JSONMap, key string) []string {
	switch v := cfg[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
