package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"leadpilot/models"
)

func TestConditionsMetEmpty(t *testing.T) {
	lead := &models.Lead{Status: "new"}
	lj := &models.LeadJourney{}

	assert.True(t, ConditionsMet(nil, lead, lj))
	assert.True(t, ConditionsMet(&models.StepConditions{}, lead, lj))
}

func TestConditionsMetNilSubjects(t *testing.T) {
	cond := &models.StepConditions{Status: "new"}
	assert.False(t, ConditionsMet(cond, nil, &models.LeadJourney{}))
	assert.False(t, ConditionsMet(cond, &models.Lead{}, nil))
}

func TestConditionsMetStatus(t *testing.T) {
	lead := &models.Lead{Status: "contacted"}
	lj := &models.LeadJourney{}

	assert.True(t, ConditionsMet(&models.StepConditions{Status: "contacted"}, lead, lj))
	assert.False(t, ConditionsMet(&models.StepConditions{Status: "qualified"}, lead, lj))
}

func TestConditionsMetTagsRequireSuperset(t *testing.T) {
	lead := &models.Lead{Status: "new", Tags: models.StringList{"warm", "vip"}}
	lj := &models.LeadJourney{}

	assert.True(t, ConditionsMet(&models.StepConditions{Tags: []string{"warm"}}, lead, lj))
	assert.True(t, ConditionsMet(&models.StepConditions{Tags: []string{"warm", "vip"}}, lead, lj))
	assert.False(t, ConditionsMet(&models.StepConditions{Tags: []string{"warm", "cold"}}, lead, lj))
}

func TestConditionsMetCallOutcomes(t *testing.T) {
	lead := &models.Lead{Status: "new"}
	cond := &models.StepConditions{CallOutcomes: []string{"answered", "voicemail"}}
	at := time.Date(2025, time.March, 10, 10, 0, 0, 0, time.UTC)

	// No call has run yet.
	assert.False(t, ConditionsMet(cond, lead, &models.LeadJourney{}))

	// Non-call history entries do not count.
	lj := &models.LeadJourney{ExecutionHistory: []models.HistoryEntry{
		{StepID: 1, Timestamp: at, Action: models.ActionSMS, Result: models.JSONMap{"outcome": "answered"}},
	}}
	assert.False(t, ConditionsMet(cond, lead, lj))

	// A call with no recorded outcome cannot match.
	lj = &models.LeadJourney{ExecutionHistory: []models.HistoryEntry{
		{StepID: 1, Timestamp: at, Action: models.ActionCall, Result: models.JSONMap{"success": true}},
	}}
	assert.False(t, ConditionsMet(cond, lead, lj))

	// Matching outcome.
	lj = &models.LeadJourney{ExecutionHistory: []models.HistoryEntry{
		{StepID: 1, Timestamp: at, Action: models.ActionCall, Result: models.JSONMap{"outcome": "voicemail"}},
	}}
	assert.True(t, ConditionsMet(cond, lead, lj))

	// The most recent call wins over earlier ones.
	lj = &models.LeadJourney{ExecutionHistory: []models.HistoryEntry{
		{StepID: 1, Timestamp: at, Action: models.ActionCall, Result: models.JSONMap{"outcome": "answered"}},
		{StepID: 2, Timestamp: at.Add(time.Hour), Action: models.ActionCall, Result: models.JSONMap{"outcome": "busy"}},
	}}
	assert.False(t, ConditionsMet(cond, lead, lj))
}

func TestConditionsMetAllClausesMustPass(t *testing.T) {
	at := time.Date(2025, time.March, 10, 10, 0, 0, 0, time.UTC)
	lead := &models.Lead{Status: "contacted", Tags: models.StringList{"warm"}}
	lj := &models.LeadJourney{ExecutionHistory: []models.HistoryEntry{
		{StepID: 1, Timestamp: at, Action: models.ActionCall, Result: models.JSONMap{"outcome": "answered"}},
	}}

	cond := &models.StepConditions{
		Status:       "contacted",
		Tags:         []string{"warm"},
		CallOutcomes: []string{"answered"},
	}
	assert.True(t, ConditionsMet(cond, lead, lj))

	cond.Status = "qualified"
	assert.False(t, ConditionsMet(cond, lead, lj))
}
