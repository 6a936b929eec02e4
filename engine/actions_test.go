package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"leadpilot/models"
)

type stubAgents struct {
	available bool
	err       error
}

func (s stubAgents) AgentsAvailable(cfg *models.AgentAPIConfig, ingroup string) (bool, error) {
	return s.available, s.err
}

type stubDialer struct {
	err  error
	last *OriginateRequest
}

func (s *stubDialer) Originate(cfg *models.AMIConfig, req OriginateRequest) error {
	s.last = &req
	return s.err
}

func createDID(t *testing.T, db *gorm.DB, tenantID uint, number string, lastUsed *time.Time) *models.DID {
	t.Helper()
	did := models.DID{TenantID: tenantID, Number: number, IsActive: true, LastUsedAt: lastUsed}
	require.NoError(t, db.Create(&did).Error)
	return &did
}

// callFixture sets up a tenant with a fallback transfer destination, a
// lead, a one-step call journey and its live enrollment.
func callFixture(t *testing.T, db *gorm.DB, e *Engine) (*models.Tenant, *models.Lead, *models.Journey, *models.LeadJourney) {
	t.Helper()
	tenant := models.Tenant{
		Name:                   "Acme",
		Timezone:               "UTC",
		IsActive:               true,
		FallbackTransferNumber: "+15559990000",
	}
	require.NoError(t, db.Create(&tenant).Error)

	lead := createLead(t, db, tenant.ID)
	journey := createJourney(t, db, tenant.ID, 0,
		models.JourneyStep{
			StepOrder:  1,
			ActionType: models.ActionCall,
			DelayType:  models.DelayImmediate,
			IsActive:   true,
		},
	)

	now := e.now()
	lj := models.LeadJourney{
		TenantID:  tenant.ID,
		LeadID:    lead.ID,
		JourneyID: journey.ID,
		Status:    models.EnrollmentActive,
		DayCount:  1,
		StartedAt: &now,
	}
	require.NoError(t, db.Create(&lj).Error)
	return &tenant, lead, journey, &lj
}

func TestExecuteCallSimulatedWhenNoDialer(t *testing.T) {
	e, db, _ := newTestEngine(t)
	tenant, lead, journey, lj := callFixture(t, db, e)
	createDID(t, db, tenant.ID, "+15550001000", nil)

	result := e.ExecuteAction(&journey.Steps[0], lead, tenant, lj)

	assert.Equal(t, true, result["success"])
	assert.Equal(t, true, result["simulated"])
	assert.NotEmpty(t, result["call_id"])

	var call models.CallLog
	require.NoError(t, db.Where("lead_id = ?", lead.ID).First(&call).Error)
	assert.Equal(t, "+15550001000", call.CallerID)
	assert.Equal(t, tenant.FallbackTransferNumber, call.TransferNumber)
	assert.Equal(t, models.CallInitiated, call.Status)

	require.NoError(t, db.First(lead, lead.ID).Error)
	assert.Equal(t, "contacted", lead.Status)
	assert.Equal(t, 1, lead.CallAttempts)
}

func TestExecuteCallOriginatesThroughDialer(t *testing.T) {
	e, db, _ := newTestEngine(t)
	tenant, lead, journey, lj := callFixture(t, db, e)
	createDID(t, db, tenant.ID, "+15550001000", nil)

	tenant.AMI = &models.AMIConfig{Host: "pbx.local", Port: 5038, Trunk: "out", Context: "journeys"}
	require.NoError(t, db.Save(tenant).Error)

	dialer := &stubDialer{}
	e.dialer = dialer

	result := e.ExecuteAction(&journey.Steps[0], lead, tenant, lj)

	assert.Equal(t, true, result["success"])
	assert.Nil(t, result["simulated"])
	assert.Equal(t, tenant.FallbackTransferNumber, result["transfer_number"])

	require.NotNil(t, dialer.last)
	assert.Equal(t, lead.Phone, dialer.last.Destination)
	assert.Equal(t, result["call_id"], dialer.last.CallID)
	assert.Equal(t, "+15550001000", dialer.last.CallerID)
}

func TestExecuteCallDegradesWhenOriginateFails(t *testing.T) {
	e, db, _ := newTestEngine(t)
	tenant, lead, journey, lj := callFixture(t, db, e)
	createDID(t, db, tenant.ID, "+15550001000", nil)

	tenant.AMI = &models.AMIConfig{Host: "pbx.local", Port: 5038, Trunk: "out", Context: "journeys"}
	require.NoError(t, db.Save(tenant).Error)

	e.dialer = &stubDialer{err: errors.New("ami down")}

	result := e.ExecuteAction(&journey.Steps[0], lead, tenant, lj)

	// Telephony outages never fail the step.
	assert.Equal(t, true, result["success"])
	assert.Equal(t, true, result["simulated"])

	var call models.CallLog
	require.NoError(t, db.Where("lead_id = ?", lead.ID).First(&call).Error)
	assert.Equal(t, result["call_id"], call.CallID)
}

func TestExecuteCallPicksLeastRecentlyUsedCallerID(t *testing.T) {
	e, db, clock := newTestEngine(t)
	tenant, lead, journey, lj := callFixture(t, db, e)

	yesterday := clock.AddDate(0, 0, -1)
	createDID(t, db, tenant.ID, "+15550001111", &yesterday)
	fresh := createDID(t, db, tenant.ID, "+15550002222", nil)

	result := e.ExecuteAction(&journey.Steps[0], lead, tenant, lj)
	require.Equal(t, true, result["success"])

	var call models.CallLog
	require.NoError(t, db.Where("lead_id = ?", lead.ID).First(&call).Error)
	assert.Equal(t, "+15550002222", call.CallerID)

	require.NoError(t, db.First(fresh, fresh.ID).Error)
	assert.Equal(t, 1, fresh.TotalCalls)
	require.NotNil(t, fresh.LastUsedAt)
}

func TestExecuteCallSkipsWhenCallInFlight(t *testing.T) {
	e, db, clock := newTestEngine(t)
	tenant, lead, journey, lj := callFixture(t, db, e)
	createDID(t, db, tenant.ID, "+15550001000", nil)

	inflight := models.CallLog{
		TenantID: tenant.ID,
		LeadID:   lead.ID,
		CallID:   "live-call",
		Status:   models.CallInitiated,
	}
	require.NoError(t, db.Create(&inflight).Error)
	require.NoError(t, db.Model(&inflight).UpdateColumn("updated_at", *clock).Error)

	result := e.ExecuteAction(&journey.Steps[0], lead, tenant, lj)

	assert.Equal(t, false, result["success"])
	assert.Equal(t, true, result["skipped"])
	assert.Equal(t, "call_in_flight", result["reason"])
	assert.Equal(t, "live-call", result["call_id"])

	// No second dial was recorded.
	var total int64
	require.NoError(t, db.Model(&models.CallLog{}).Where("lead_id = ?", lead.ID).Count(&total).Error)
	assert.EqualValues(t, 1, total)
}

func TestExecuteCallPromotesStaleInFlightCall(t *testing.T) {
	e, db, clock := newTestEngine(t)
	tenant, lead, journey, lj := callFixture(t, db, e)
	createDID(t, db, tenant.ID, "+15550001000", nil)

	stale := models.CallLog{
		TenantID: tenant.ID,
		LeadID:   lead.ID,
		CallID:   "stale-call",
		Status:   models.CallInitiated,
	}
	require.NoError(t, db.Create(&stale).Error)
	require.NoError(t, db.Model(&stale).UpdateColumn("updated_at", clock.Add(-2*time.Minute)).Error)

	result := e.ExecuteAction(&journey.Steps[0], lead, tenant, lj)

	// This attempt still skips; the stale record is promoted so the
	// next one goes through.
	assert.Equal(t, true, result["skipped"])

	require.NoError(t, db.First(&stale, stale.ID).Error)
	assert.Equal(t, models.CallConnected, stale.Status)
}

func TestProcessDueExecutionsReschedulesWhenNoAgentsAvailable(t *testing.T) {
	e, db, clock := newTestEngine(t)
	e.agents = stubAgents{available: false}

	tenant := models.Tenant{
		Name:                   "Acme",
		Timezone:               "UTC",
		IsActive:               true,
		FallbackTransferNumber: "+15559990000",
		AgentAPI:               &models.AgentAPIConfig{URL: "http://dialer.local", Ingroup: "sales"},
	}
	require.NoError(t, db.Create(&tenant).Error)
	lead := createLead(t, db, tenant.ID)
	journey := createJourney(t, db, tenant.ID, 0,
		models.JourneyStep{
			StepOrder:  1,
			ActionType: models.ActionCall,
			DelayType:  models.DelayImmediate,
			IsActive:   true,
		},
	)

	lj, err := e.StartEnrollment(lead, journey, &tenant)
	require.NoError(t, err)

	_, err = e.ProcessDueExecutions(context.Background())
	require.NoError(t, err)

	var exec models.JourneyExecution
	require.NoError(t, db.Where("lead_journey_id = ?", lj.ID).First(&exec).Error)
	assert.Equal(t, models.ExecutionPending, exec.Status)
	assert.Equal(t, clock.Add(5*time.Minute).Unix(), exec.ScheduledTime.Unix())

	// Nothing was dialed and the run did not advance.
	var calls int64
	require.NoError(t, db.Model(&models.CallLog{}).Where("lead_id = ?", lead.ID).Count(&calls).Error)
	assert.Zero(t, calls)

	require.NoError(t, db.First(lj, lj.ID).Error)
	assert.Len(t, lj.ExecutionHistory, 0)
	require.NotNil(t, lj.CurrentStepID)
	assert.Equal(t, journey.Steps[0].ID, *lj.CurrentStepID)
}

func TestProcessDueExecutionsRunsCallStepsWithoutSchedule(t *testing.T) {
	e, db, _ := newTestEngine(t)
	tenant, lead, journey, _ := callFixture(t, db, e)
	createDID(t, db, tenant.ID, "+15550001000", nil)

	lj, err := e.StartEnrollment(lead, journey, tenant)
	require.NoError(t, err)

	_, err = e.ProcessDueExecutions(context.Background())
	require.NoError(t, err)

	// A tenant with no business-hours schedule dials immediately
	// instead of deferring to the next morning.
	var exec models.JourneyExecution
	require.NoError(t, db.Where("lead_journey_id = ?", lj.ID).First(&exec).Error)
	assert.Equal(t, models.ExecutionCompleted, exec.Status)
	assert.Equal(t, true, exec.Result["success"])

	var calls int64
	require.NoError(t, db.Model(&models.CallLog{}).Where("lead_id = ?", lead.ID).Count(&calls).Error)
	assert.EqualValues(t, 1, calls)

	require.NoError(t, db.First(lj, lj.ID).Error)
	assert.Equal(t, models.EnrollmentCompleted, lj.Status)
	assert.Len(t, lj.ExecutionHistory, 1)
}
