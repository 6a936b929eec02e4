package engine

import (
	"fmt"
	"time"

	"leadpilot/models"
)

// weekdayKey converts a time.Weekday to the lowercase schedule key.
func weekdayKey(d time.Weekday) string {
	switch d {
	case time.Monday:
		return "monday"
	case time.Tuesday:
		return "tuesday"
	case time.Wednesday:
		return "wednesday"
	case time.Thursday:
		return "thursday"
	case time.Friday:
		return "friday"
	case time.Saturday:
		return "saturday"
	}
	return "sunday"
}

// IsOpen reports whether now falls inside the schedule's window for
// today. Both window boundaries are inclusive: being exactly at start
// or end counts as open. Start/End are zero-padded 24h strings, so a
// lexical comparison is enough.
func IsOpen(schedule models.WeekSchedule, now time.Time) bool {
	if len(schedule) == 0 {
		return false
	}
	day, ok := schedule[weekdayKey(now.Weekday())]
	if !ok || !day.Enabled {
		return false
	}
	hm := now.Format("15:04")
	return day.Start <= hm && hm <= day.End
}

// NextOpenTime returns the next instant the schedule is open at or
// after now. If the schedule is open right now it returns now itself.
// When no enabled day exists within a week it falls back to tomorrow
// at 09:00 so a misconfigured tenant never wedges its executions.
func NextOpenTime(schedule models.WeekSchedule, now time.Time) time.Time {
	if day, ok := schedule[weekdayKey(now.Weekday())]; ok && day.Enabled {
		hm := now.Format("15:04")
		if hm < day.Start {
			return atClock(now, day.Start)
		}
		if hm <= day.End {
			return now
		}
	}

	for i := 1; i <= 7; i++ {
		candidate := now.AddDate(0, 0, i)
		if day, ok := schedule[weekdayKey(candidate.Weekday())]; ok && day.Enabled {
			return atClock(candidate, day.Start)
		}
	}

	return atClock(now.AddDate(0, 0, 1), "09:00")
}

// atClock returns the instant on day's date at the given "HH:MM" in
// day's location. Unparseable input falls back to 09:00.
func atClock(day time.Time, hhmm string) time.Time {
	var h, m int
	if _, err := fmt.Sscanf(hhmm, "%d:%d", &h, &m); err != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		h, m = 9, 0
	}
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, day.Location())
}
