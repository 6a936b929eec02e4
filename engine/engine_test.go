package engine

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"leadpilot/models"
)

// newTestEngine builds an engine on an in-memory database with a
// controllable clock. Tests advance time through the returned pointer.
func newTestEngine(t *testing.T) (*Engine, *gorm.DB, *time.Time) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.Tenant{},
		&models.User{},
		&models.DID{},
		&models.Lead{},
		&models.Journey{},
		&models.JourneyStep{},
		&models.LeadJourney{},
		&models.JourneyExecution{},
		&models.TransferGroup{},
		&models.TransferNumber{},
		&models.CallLog{},
	))

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	e := New(db, logger, Options{DefaultTimezone: "UTC"})

	// Monday, well inside a normal working day.
	current := time.Date(2025, time.March, 10, 10, 0, 0, 0, time.UTC)
	e.nowFn = func() time.Time { return current }

	return e, db, &current
}

func weekdaysOpen(start, end string) models.WeekSchedule {
	s := models.WeekSchedule{}
	for _, d := range []string{"monday", "tuesday", "wednesday", "thursday", "friday"} {
		s[d] = models.DayHours{Enabled: true, Start: start, End: end}
	}
	return s
}

func createTenant(t *testing.T, db *gorm.DB) *models.Tenant {
	t.Helper()
	tenant := models.Tenant{Name: "Acme", Timezone: "UTC", IsActive: true}
	require.NoError(t, db.Create(&tenant).Error)
	return &tenant
}

func createLead(t *testing.T, db *gorm.DB, tenantID uint) *models.Lead {
	t.Helper()
	lead := models.Lead{TenantID: tenantID, Phone: "+15550001111", Status: "new"}
	require.NoError(t, db.Create(&lead).Error)
	return &lead
}

func createJourney(t *testing.T, db *gorm.DB, tenantID uint, repeatDays int, steps ...models.JourneyStep) *models.Journey {
	t.Helper()
	journey := models.Journey{TenantID: tenantID, Name: "test journey", IsActive: true, RepeatDays: repeatDays}
	require.NoError(t, db.Create(&journey).Error)
	for i := range steps {
		steps[i].JourneyID = journey.ID
		active := steps[i].IsActive
		require.NoError(t, db.Create(&steps[i]).Error)
		if !active {
			// The default:true tag makes Create write back true for a
			// zero-value flag; force the declared value.
			require.NoError(t, db.Model(&steps[i]).UpdateColumn("is_active", false).Error)
			steps[i].IsActive = false
		}
	}
	journey.Steps = steps
	return &journey
}

func TestProcessDueExecutionsRunsStepsInSequence(t *testing.T) {
	e, db, clock := newTestEngine(t)
	tenant := createTenant(t, db)
	lead := createLead(t, db, tenant.ID)
	journey := createJourney(t, db, tenant.ID, 0,
		models.JourneyStep{
			StepOrder:    1,
			ActionType:   models.ActionStatusChange,
			ActionConfig: models.JSONMap{"new_status": "contacted"},
			DelayType:    models.DelayImmediate,
			IsActive:     true,
		},
		models.JourneyStep{
			StepOrder:    2,
			ActionType:   models.ActionTagUpdate,
			ActionConfig: models.JSONMap{"operation": "add", "tags": []interface{}{"warm"}},
			DelayType:    models.DelayAfterPrevious,
			DelayConfig:  models.JSONMap{"hours": float64(1)},
			IsActive:     true,
		},
	)

	lj, err := e.StartEnrollment(lead, journey, tenant)
	require.NoError(t, err)
	require.NotNil(t, lj.CurrentStepID)
	assert.Equal(t, journey.Steps[0].ID, *lj.CurrentStepID)

	// First sweep runs the immediate status change.
	n, err := e.ProcessDueExecutions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, db.First(lead, lead.ID).Error)
	assert.Equal(t, "contacted", lead.Status)

	// The completed execution persists its result and is never re-run.
	var first models.JourneyExecution
	require.NoError(t, db.Where("lead_journey_id = ? AND step_id = ?", lj.ID, journey.Steps[0].ID).First(&first).Error)
	assert.Equal(t, models.ExecutionCompleted, first.Status)
	assert.Equal(t, true, first.Result["success"])
	assert.Equal(t, 1, first.Attempts)

	require.NoError(t, db.First(lj, lj.ID).Error)
	assert.Equal(t, models.EnrollmentActive, lj.Status)
	assert.Len(t, lj.ExecutionHistory, 1)
	require.NotNil(t, lj.CurrentStepID)
	assert.Equal(t, journey.Steps[1].ID, *lj.CurrentStepID)
	require.NotNil(t, lj.NextExecutionTime)
	assert.Equal(t, clock.Add(time.Hour).Unix(), lj.NextExecutionTime.Unix())

	// The second step is not due yet.
	n, err = e.ProcessDueExecutions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	*clock = clock.Add(61 * time.Minute)

	n, err = e.ProcessDueExecutions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, db.First(lead, lead.ID).Error)
	assert.True(t, lead.Tags.Contains("warm"))

	require.NoError(t, db.First(lj, lj.ID).Error)
	assert.Equal(t, models.EnrollmentCompleted, lj.Status)
	assert.NotNil(t, lj.CompletedAt)
	assert.Nil(t, lj.NextExecutionTime)
	assert.Len(t, lj.ExecutionHistory, 2)
}

func TestProcessDueExecutionsSkipsOnFailedConditionsAndAdvances(t *testing.T) {
	e, db, _ := newTestEngine(t)
	tenant := createTenant(t, db)
	lead := createLead(t, db, tenant.ID)
	journey := createJourney(t, db, tenant.ID, 0,
		models.JourneyStep{
			StepOrder:    1,
			ActionType:   models.ActionSMS,
			ActionConfig: models.JSONMap{"body": "hi"},
			DelayType:    models.DelayImmediate,
			Conditions:   &models.StepConditions{Status: "qualified"},
			IsActive:     true,
		},
		models.JourneyStep{
			StepOrder:    2,
			ActionType:   models.ActionStatusChange,
			ActionConfig: models.JSONMap{"new_status": "contacted"},
			DelayType:    models.DelayImmediate,
			IsActive:     true,
		},
	)

	lj, err := e.StartEnrollment(lead, journey, tenant)
	require.NoError(t, err)

	n, err := e.ProcessDueExecutions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var exec models.JourneyExecution
	require.NoError(t, db.Where("lead_journey_id = ? AND step_id = ?", lj.ID, journey.Steps[0].ID).First(&exec).Error)
	assert.Equal(t, models.ExecutionCompleted, exec.Status)
	assert.Equal(t, true, exec.Result["success"])
	assert.Equal(t, false, exec.Result["conditions_met"])

	// Skipped steps leave no history entry but the run still advances.
	require.NoError(t, db.First(lj, lj.ID).Error)
	assert.Len(t, lj.ExecutionHistory, 0)
	require.NotNil(t, lj.CurrentStepID)
	assert.Equal(t, journey.Steps[1].ID, *lj.CurrentStepID)

	n, err = e.ProcessDueExecutions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, db.First(lead, lead.ID).Error)
	assert.Equal(t, "contacted", lead.Status)
	require.NoError(t, db.First(lj, lj.ID).Error)
	assert.Equal(t, models.EnrollmentCompleted, lj.Status)
	assert.Len(t, lj.ExecutionHistory, 1)
}

func TestProcessDueExecutionsRetriesThenFails(t *testing.T) {
	e, db, clock := newTestEngine(t)
	tenant := createTenant(t, db)
	lead := createLead(t, db, tenant.ID)
	journey := createJourney(t, db, tenant.ID, 0,
		models.JourneyStep{
			StepOrder:  1,
			ActionType: models.ActionDelay,
			DelayType:  models.DelayImmediate,
			IsActive:   true,
		},
	)

	started := *clock
	lj := models.LeadJourney{
		TenantID:  tenant.ID,
		LeadID:    lead.ID,
		JourneyID: journey.ID,
		Status:    models.EnrollmentActive,
		DayCount:  1,
		StartedAt: &started,
	}
	require.NoError(t, db.Create(&lj).Error)

	// References a step that does not exist in the journey, so every
	// attempt errors out structurally.
	exec := models.JourneyExecution{
		LeadJourneyID: lj.ID,
		StepID:        journey.Steps[0].ID + 1000,
		ScheduledTime: *clock,
		Status:        models.ExecutionPending,
	}
	require.NoError(t, db.Create(&exec).Error)

	for attempt := 1; attempt <= 2; attempt++ {
		_, err := e.ProcessDueExecutions(context.Background())
		require.NoError(t, err)

		require.NoError(t, db.First(&exec, exec.ID).Error)
		assert.Equal(t, models.ExecutionPending, exec.Status)
		assert.Equal(t, attempt, exec.Attempts)
		assert.NotEmpty(t, exec.ErrorMessage)
		assert.Equal(t, clock.Add(retryBackoff).Unix(), exec.ScheduledTime.Unix())

		*clock = clock.Add(retryBackoff + time.Minute)
	}

	_, err := e.ProcessDueExecutions(context.Background())
	require.NoError(t, err)

	require.NoError(t, db.First(&exec, exec.ID).Error)
	assert.Equal(t, models.ExecutionFailed, exec.Status)
	assert.Equal(t, maxAttempts, exec.Attempts)
}

func TestProcessDueExecutionsCancelsWorkForInactiveEnrollments(t *testing.T) {
	e, db, _ := newTestEngine(t)
	tenant := createTenant(t, db)
	lead := createLead(t, db, tenant.ID)
	journey := createJourney(t, db, tenant.ID, 0,
		models.JourneyStep{
			StepOrder:    1,
			ActionType:   models.ActionStatusChange,
			ActionConfig: models.JSONMap{"new_status": "contacted"},
			DelayType:    models.DelayImmediate,
			IsActive:     true,
		},
	)

	lj, err := e.StartEnrollment(lead, journey, tenant)
	require.NoError(t, err)
	require.NoError(t, e.PauseEnrollment(lj))

	_, err = e.ProcessDueExecutions(context.Background())
	require.NoError(t, err)

	var exec models.JourneyExecution
	require.NoError(t, db.Where("lead_journey_id = ?", lj.ID).First(&exec).Error)
	assert.Equal(t, models.ExecutionCancelled, exec.Status)

	// The lead was never touched.
	require.NoError(t, db.First(lead, lead.ID).Error)
	assert.Equal(t, "new", lead.Status)
}

func TestProcessDueExecutionsReschedulesOutsideBusinessHours(t *testing.T) {
	e, db, clock := newTestEngine(t)

	tenant := models.Tenant{
		Name:          "Acme",
		Timezone:      "UTC",
		IsActive:      true,
		BusinessHours: weekdaysOpen("09:00", "17:00"),
	}
	require.NoError(t, db.Create(&tenant).Error)
	lead := createLead(t, db, tenant.ID)
	journey := createJourney(t, db, tenant.ID, 0,
		models.JourneyStep{
			StepOrder:  1,
			ActionType: models.ActionStatusChange,
			ActionConfig: models.JSONMap{
				"new_status":             "contacted",
				"respect_business_hours": true,
			},
			DelayType: models.DelayImmediate,
			IsActive:  true,
		},
	)

	lj, err := e.StartEnrollment(lead, journey, &tenant)
	require.NoError(t, err)

	// Monday 18:00, after closing.
	*clock = time.Date(2025, time.March, 10, 18, 0, 0, 0, time.UTC)

	_, err = e.ProcessDueExecutions(context.Background())
	require.NoError(t, err)

	var exec models.JourneyExecution
	require.NoError(t, db.Where("lead_journey_id = ?", lj.ID).First(&exec).Error)
	assert.Equal(t, models.ExecutionPending, exec.Status)

	wantOpen := time.Date(2025, time.March, 11, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, wantOpen.Unix(), exec.ScheduledTime.Unix())

	// The lead was not touched while closed.
	require.NoError(t, db.First(lead, lead.ID).Error)
	assert.Equal(t, "new", lead.Status)
}

func TestResumeEnrollmentReschedulesCurrentStep(t *testing.T) {
	e, db, _ := newTestEngine(t)
	tenant := createTenant(t, db)
	lead := createLead(t, db, tenant.ID)
	journey := createJourney(t, db, tenant.ID, 0,
		models.JourneyStep{
			StepOrder:    1,
			ActionType:   models.ActionStatusChange,
			ActionConfig: models.JSONMap{"new_status": "contacted"},
			DelayType:    models.DelayImmediate,
			IsActive:     true,
		},
	)

	lj, err := e.StartEnrollment(lead, journey, tenant)
	require.NoError(t, err)
	require.NoError(t, e.PauseEnrollment(lj))

	// The pending execution comes due while paused and gets cancelled.
	_, err = e.ProcessDueExecutions(context.Background())
	require.NoError(t, err)

	pending, err := e.CountPendingExecutions(lj.ID)
	require.NoError(t, err)
	assert.Zero(t, pending)

	require.NoError(t, e.ResumeEnrollment(lj, tenant))
	assert.Equal(t, models.EnrollmentActive, lj.Status)

	pending, err = e.CountPendingExecutions(lj.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, pending)

	_, err = e.ProcessDueExecutions(context.Background())
	require.NoError(t, err)

	require.NoError(t, db.First(lead, lead.ID).Error)
	assert.Equal(t, "contacted", lead.Status)
}

func TestRestartEnrollmentResetsDayCountAndKeepsHistory(t *testing.T) {
	e, db, clock := newTestEngine(t)
	tenant := createTenant(t, db)
	lead := createLead(t, db, tenant.ID)
	journey := createJourney(t, db, tenant.ID, 0,
		models.JourneyStep{
			StepOrder:    1,
			ActionType:   models.ActionStatusChange,
			ActionConfig: models.JSONMap{"new_status": "contacted"},
			DelayType:    models.DelayImmediate,
			IsActive:     true,
		},
	)

	lj, err := e.StartEnrollment(lead, journey, tenant)
	require.NoError(t, err)

	_, err = e.ProcessDueExecutions(context.Background())
	require.NoError(t, err)

	require.NoError(t, db.First(lj, lj.ID).Error)
	assert.Equal(t, models.EnrollmentCompleted, lj.Status)
	assert.Len(t, lj.ExecutionHistory, 1)

	*clock = clock.Add(time.Hour)
	require.NoError(t, e.RestartEnrollment(lj, journey, tenant))

	require.NoError(t, db.First(lj, lj.ID).Error)
	assert.Equal(t, models.EnrollmentActive, lj.Status)
	assert.Equal(t, 1, lj.DayCount)
	assert.Nil(t, lj.CompletedAt)
	assert.Len(t, lj.ExecutionHistory, 1)

	pending, err := e.CountPendingExecutions(lj.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, pending)
}
