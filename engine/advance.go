package engine

import (
	"fmt"

	"leadpilot/models"
)

// AdvanceJourney decides what happens after a step has executed for an
// enrollment: terminalize on an exit point, move to the next active
// step, or handle day-end repeat semantics. Steps must already be
// sorted by StepOrder.
func (e *Engine) AdvanceJourney(lj *models.LeadJourney, journey *models.Journey, current *models.JourneyStep, tenant *models.Tenant) error {
	if current.IsExitPoint {
		return e.terminalize(lj, models.EnrollmentExited)
	}

	next := nextActiveStep(journey.Steps, current.StepOrder)

	if next == nil {
		// End of the sequence. A day-end step with repeat cycles left
		// restarts the journey from its first active step.
		if current.IsDayEnd && journey.RepeatDays > lj.DayCount {
			e.bumpDayCount(lj)
			first := firstActiveStep(journey.Steps)
			if first == nil {
				return e.terminalize(lj, models.EnrollmentCompleted)
			}
			return e.scheduleStep(lj, first, tenant)
		}
		return e.terminalize(lj, models.EnrollmentCompleted)
	}

	// A day-end step in the middle of the sequence still counts a day;
	// crossing the repeat budget completes the journey instead of
	// scheduling the step we found.
	if current.IsDayEnd {
		e.bumpDayCount(lj)
		if journey.RepeatDays > 0 && lj.DayCount > journey.RepeatDays {
			return e.terminalize(lj, models.EnrollmentCompleted)
		}
	}

	return e.scheduleStep(lj, next, tenant)
}

// scheduleStep computes the step's fire time, stores it on the
// enrollment, and creates the pending execution the next poll will
// pick up.
func (e *Engine) scheduleStep(lj *models.LeadJourney, step *models.JourneyStep, tenant *models.Tenant) error {
	at := ComputeScheduledTime(step, lj, e.now(), e.location(tenant))

	lj.CurrentStepID = &step.ID
	lj.NextExecutionTime = &at
	if err := e.db.Save(lj).Error; err != nil {
		return fmt.Errorf("saving enrollment %d: %w", lj.ID, err)
	}

	exec := models.JourneyExecution{
		LeadJourneyID: lj.ID,
		StepID:        step.ID,
		ScheduledTime: at,
		Status:        models.ExecutionPending,
	}
	if err := e.db.Create(&exec).Error; err != nil {
		return fmt.Errorf("scheduling step %d: %w", step.ID, err)
	}

	e.log.WithField("lead_journey_id", lj.ID).
		WithField("step_id", step.ID).
		WithField("scheduled_time", at).
		Debug("scheduled next step")
	return nil
}

func (e *Engine) terminalize(lj *models.LeadJourney, status string) error {
	now := e.now()
	lj.Status = status
	lj.CompletedAt = &now
	lj.NextExecutionTime = nil
	if err := e.db.Save(lj).Error; err != nil {
		return fmt.Errorf("terminalizing enrollment %d: %w", lj.ID, err)
	}
	e.log.WithField("lead_journey_id", lj.ID).
		WithField("status", status).
		Info("enrollment terminalized")
	return nil
}

// bumpDayCount keeps the typed column and the contextData mirror in
// step; dayCount only ever increases.
func (e *Engine) bumpDayCount(lj *models.LeadJourney) {
	lj.DayCount++
	if lj.ContextData == nil {
		lj.ContextData = models.JSONMap{}
	}
	lj.ContextData["day_count"] = lj.DayCount
}

func nextActiveStep(steps []models.JourneyStep, afterOrder int) *models.JourneyStep {
	for i := range steps {
		if steps[i].IsActive && steps[i].StepOrder > afterOrder {
			return &steps[i]
		}
	}
	return nil
}

func firstActiveStep(steps []models.JourneyStep) *models.JourneyStep {
	for i := range steps {
		if steps[i].IsActive {
			return &steps[i]
		}
	}
	return nil
}
