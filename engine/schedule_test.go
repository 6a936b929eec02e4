package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"leadpilot/models"
)

func TestComputeScheduledTimeImmediate(t *testing.T) {
	step := &models.JourneyStep{DelayType: models.DelayImmediate}
	now := monday(10, 0)
	got := ComputeScheduledTime(step, &models.LeadJourney{}, now, time.UTC)
	assert.Equal(t, now, got)
}

func TestComputeScheduledTimeUnknownTypeFallsBackToNow(t *testing.T) {
	step := &models.JourneyStep{DelayType: "someday"}
	now := monday(10, 0)
	got := ComputeScheduledTime(step, &models.LeadJourney{}, now, time.UTC)
	assert.Equal(t, now, got)
}

func TestComputeScheduledTimeFixedTime(t *testing.T) {
	step := &models.JourneyStep{
		DelayType:   models.DelayFixedTime,
		DelayConfig: models.JSONMap{"time": "14:30"},
	}

	// Still ahead of the clock time: fires today.
	got := ComputeScheduledTime(step, &models.LeadJourney{}, monday(10, 0), time.UTC)
	assert.Equal(t, monday(14, 30), got)

	// Past the clock time: rolls to tomorrow.
	got = ComputeScheduledTime(step, &models.LeadJourney{}, monday(15, 0), time.UTC)
	assert.Equal(t, monday(14, 30).AddDate(0, 0, 1), got)

	// Exactly at the clock time also rolls; the instant has passed.
	got = ComputeScheduledTime(step, &models.LeadJourney{}, monday(14, 30), time.UTC)
	assert.Equal(t, monday(14, 30).AddDate(0, 0, 1), got)
}

func TestComputeScheduledTimeAfterPrevious(t *testing.T) {
	step := &models.JourneyStep{
		DelayType:   models.DelayAfterPrevious,
		DelayConfig: models.JSONMap{"hours": float64(2), "minutes": float64(15)},
	}
	now := monday(10, 0)
	last := monday(8, 0)
	started := monday(6, 0)

	// LastExecutionTime wins over StartedAt.
	lj := &models.LeadJourney{LastExecutionTime: &last, StartedAt: &started}
	got := ComputeScheduledTime(step, lj, now, time.UTC)
	assert.Equal(t, monday(10, 15), got)

	// Without a previous execution the enrollment start is the base.
	lj = &models.LeadJourney{StartedAt: &started}
	got = ComputeScheduledTime(step, lj, now, time.UTC)
	assert.Equal(t, monday(8, 15), got)

	// Without either, now is the base.
	got = ComputeScheduledTime(step, &models.LeadJourney{}, now, time.UTC)
	assert.Equal(t, monday(12, 15), got)
}

func TestComputeScheduledTimeAfterEnrollment(t *testing.T) {
	step := &models.JourneyStep{
		DelayType:   models.DelayAfterEnrollment,
		DelayConfig: models.JSONMap{"days": float64(3)},
	}
	started := monday(9, 0)
	lj := &models.LeadJourney{StartedAt: &started}

	got := ComputeScheduledTime(step, lj, monday(10, 0), time.UTC)
	assert.Equal(t, monday(9, 0).AddDate(0, 0, 3), got)
}

func TestComputeScheduledTimeSpecificDays(t *testing.T) {
	step := &models.JourneyStep{
		DelayType: models.DelaySpecificDays,
		DelayConfig: models.JSONMap{
			"weekdays": []interface{}{"wednesday", "friday"},
			"time":     "11:00",
		},
	}

	// Monday morning: next slot is Wednesday 11:00.
	got := ComputeScheduledTime(step, &models.LeadJourney{}, monday(10, 0), time.UTC)
	assert.Equal(t, time.Date(2025, time.March, 12, 11, 0, 0, 0, time.UTC), got)

	// Wednesday after 11:00: next slot is Friday.
	wednesdayNoon := time.Date(2025, time.March, 12, 12, 0, 0, 0, time.UTC)
	got = ComputeScheduledTime(step, &models.LeadJourney{}, wednesdayNoon, time.UTC)
	assert.Equal(t, time.Date(2025, time.March, 14, 11, 0, 0, 0, time.UTC), got)

	// Wednesday before 11:00 stays on the same day.
	wednesdayMorning := time.Date(2025, time.March, 12, 8, 0, 0, 0, time.UTC)
	got = ComputeScheduledTime(step, &models.LeadJourney{}, wednesdayMorning, time.UTC)
	assert.Equal(t, time.Date(2025, time.March, 12, 11, 0, 0, 0, time.UTC), got)
}

func TestComputeScheduledTimeSpecificDaysNoMatchFallsBack(t *testing.T) {
	step := &models.JourneyStep{
		DelayType:   models.DelaySpecificDays,
		DelayConfig: models.JSONMap{"weekdays": []interface{}{}},
	}
	got := ComputeScheduledTime(step, &models.LeadJourney{}, monday(10, 0), time.UTC)
	assert.Equal(t, time.Date(2025, time.March, 11, 9, 0, 0, 0, time.UTC), got)
}

func TestCfgHelpers(t *testing.T) {
	cfg := models.JSONMap{
		"f":    float64(4),
		"i":    7,
		"s":    "hello",
		"b":    true,
		"list": []interface{}{"a", "b", 3},
	}

	assert.Equal(t, 4, cfgInt(cfg, "f"))
	assert.Equal(t, 7, cfgInt(cfg, "i"))
	assert.Equal(t, 0, cfgInt(cfg, "missing"))
	assert.Equal(t, "hello", cfgString(cfg, "s", "x"))
	assert.Equal(t, "x", cfgString(cfg, "missing", "x"))
	assert.True(t, cfgBool(cfg, "b"))
	assert.False(t, cfgBool(cfg, "missing"))
	assert.Equal(t, []string{"a", "b"}, cfgStringList(cfg, "list"))
	assert.Nil(t, cfgStringList(cfg, "missing"))
}
