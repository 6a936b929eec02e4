package engine

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"leadpilot/models"
)

// ErrNoActiveSteps is returned when a journey has nothing to schedule.
var ErrNoActiveSteps = errors.New("journey has no active steps")

// StartEnrollment creates a live run of a journey for a lead and
// schedules its first active step.
func (e *Engine) StartEnrollment(lead *models.Lead, journey *models.Journey, tenant *models.Tenant) (*models.LeadJourney, error) {
	sortSteps(journey.Steps)
	first := firstActiveStep(journey.Steps)
	if first == nil {
		return nil, ErrNoActiveSteps
	}

	now := e.now()
	lj := models.LeadJourney{
		TenantID:    tenant.ID,
		LeadID:      lead.ID,
		JourneyID:   journey.ID,
		Status:      models.EnrollmentActive,
		DayCount:    1,
		StartedAt:   &now,
		ContextData: models.JSONMap{"day_count": 1},
	}
	if err := e.db.Create(&lj).Error; err != nil {
		return nil, fmt.Errorf("creating enrollment: %w", err)
	}

	if err := e.scheduleStep(&lj, first, tenant); err != nil {
		return nil, err
	}
	return &lj, nil
}

// PauseEnrollment suspends an active enrollment. Its pending execution
// stays on the books; the loop cancels it if it comes due while paused.
func (e *Engine) PauseEnrollment(lj *models.LeadJourney) error {
	if lj.Status != models.EnrollmentActive {
		return fmt.Errorf("enrollment %d is %s, not active", lj.ID, lj.Status)
	}
	lj.Status = models.EnrollmentPaused
	return e.db.Save(lj).Error
}

// ResumeEnrollment reactivates a paused enrollment and reschedules its
// current step, since any execution that came due while paused was
// cancelled.
func (e *Engine) ResumeEnrollment(lj *models.LeadJourney, tenant *models.Tenant) error {
	if lj.Status != models.EnrollmentPaused {
		return fmt.Errorf("enrollment %d is %s, not paused", lj.ID, lj.Status)
	}
	lj.Status = models.EnrollmentActive
	if err := e.db.Save(lj).Error; err != nil {
		return err
	}

	if lj.CurrentStepID == nil {
		return nil
	}

	// Reuse a still-pending execution when one survived the pause.
	var pending int64
	e.db.Model(&models.JourneyExecution{}).
		Where("lead_journey_id = ? AND status = ?", lj.ID, models.ExecutionPending).
		Count(&pending)
	if pending > 0 {
		return nil
	}

	var step models.JourneyStep
	if err := e.db.First(&step, *lj.CurrentStepID).Error; err != nil {
		return fmt.Errorf("current step %d not found: %w", *lj.CurrentStepID, err)
	}
	return e.scheduleStep(lj, &step, tenant)
}

// RestartEnrollment cancels all pending work for the enrollment and
// starts it over from the journey's first active step with a fresh day
// counter. Execution history is kept.
func (e *Engine) RestartEnrollment(lj *models.LeadJourney, journey *models.Journey, tenant *models.Tenant) error {
	if err := e.db.Model(&models.JourneyExecution{}).
		Where("lead_journey_id = ? AND status = ?", lj.ID, models.ExecutionPending).
		Update("status", models.ExecutionCancelled).Error; err != nil {
		return fmt.Errorf("cancelling pending executions: %w", err)
	}

	sortSteps(journey.Steps)
	first := firstActiveStep(journey.Steps)
	if first == nil {
		return ErrNoActiveSteps
	}

	now := e.now()
	lj.Status = models.EnrollmentActive
	lj.DayCount = 1
	lj.CompletedAt = nil
	lj.StartedAt = &now
	if lj.ContextData == nil {
		lj.ContextData = models.JSONMap{}
	}
	lj.ContextData["day_count"] = 1
	if err := e.db.Save(lj).Error; err != nil {
		return err
	}

	return e.scheduleStep(lj, first, tenant)
}

// CountPendingExecutions is a small helper for the API layer.
func (e *Engine) CountPendingExecutions(leadJourneyID uint) (int64, error) {
	var n int64
	err := e.db.Model(&models.JourneyExecution{}).
		Where("lead_journey_id = ? AND status = ?", leadJourneyID, models.ExecutionPending).
		Count(&n).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, err
	}
	return n, nil
}
