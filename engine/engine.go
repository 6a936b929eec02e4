package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"leadpilot/models"
)

const (
	// DefaultBatchSize bounds how many due executions one tick pulls.
	DefaultBatchSize = 50

	maxAttempts  = 3
	retryBackoff = 15 * time.Minute
)

// ErrNotConfigured is returned by channel adapters when no provider is
// wired for the requested channel; the engine degrades the action to a
// simulated success instead of failing the step.
var ErrNotConfigured = errors.New("channel provider not configured")

// AgentChecker queries the dialer's non-agent API for idle agents in
// an ingroup. Callers treat errors as "available" (fail-open).
type AgentChecker interface {
	AgentsAvailable(cfg *models.AgentAPIConfig, ingroup string) (bool, error)
}

// OriginateRequest is the variable bundle handed to the telephony
// adapter when placing an outbound call.
type OriginateRequest struct {
	CallID         string
	CallerID       string
	Destination    string
	Context        string
	TransferNumber string
	Ingroup        string
	Brand          string
	RecordingURL   string
	Variables      map[string]string
}

// Originator places an outbound call asynchronously. Failures are
// tolerated by the engine (simulated-success fallback).
type Originator interface {
	Originate(cfg *models.AMIConfig, req OriginateRequest) error
}

// Messenger renders a template with lead + config variables and sends
// it via the configured SMS or email provider, returning a delivery id.
type Messenger interface {
	Send(channel string, lead *models.Lead, cfg models.JSONMap) (string, error)
}

// WebhookSender delivers a payload to an arbitrary URL and reports the
// transport status and response body.
type WebhookSender interface {
	Deliver(method, url string, payload interface{}) (int, string, error)
}

// Options wires the engine's external collaborators. Any of them may
// be nil; the affected actions then return simulated successes.
type Options struct {
	Agents          AgentChecker
	Dialer          Originator
	Messenger       Messenger
	Webhooks        WebhookSender
	DefaultTimezone string
	BatchSize       int
}

// Engine drives journey executions: it polls due work, gates it on
// business hours and step conditions, dispatches actions, and advances
// enrollments through their step graphs.
type Engine struct {
	db     *gorm.DB
	log    *logrus.Logger
	agents AgentChecker
	dialer Originator
	msgr   Messenger
	hooks  WebhookSender

	defaultTZ string
	batchSize int
	nowFn     func() time.Time

	events *eventHub
}

func New(db *gorm.DB, logger *logrus.Logger, opts Options) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	batch := opts.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	return &Engine{
		db:        db,
		log:       logger,
		agents:    opts.Agents,
		dialer:    opts.Dialer,
		msgr:      opts.Messenger,
		hooks:     opts.Webhooks,
		defaultTZ: opts.DefaultTimezone,
		batchSize: batch,
		nowFn:     time.Now,
		events:    newEventHub(),
	}
}

func (e *Engine) now() time.Time {
	return e.nowFn()
}

// ProcessDueExecutions runs one polling cycle: it pulls up to the
// batch size of pending executions whose scheduled time has arrived
// and processes them sequentially. One bad record never aborts the
// batch. Returns the number of rows pulled this cycle.
func (e *Engine) ProcessDueExecutions(ctx context.Context) (int, error) {
	now := e.now()

	var due []models.JourneyExecution
	if err := e.db.
		Where("status = ? AND scheduled_time <= ?", models.ExecutionPending, now).
		Limit(e.batchSize).
		Find(&due).Error; err != nil {
		return 0, fmt.Errorf("fetching due executions: %w", err)
	}

	for i := range due {
		if ctx.Err() != nil {
			return len(due), ctx.Err()
		}
		exec := &due[i]
		if !e.claim(exec) {
			// Another worker got there first.
			continue
		}
		if err := e.processExecution(exec); err != nil {
			e.retryOrFail(exec, err)
		}
	}

	return len(due), nil
}

// claim marks an execution as processing with an atomic conditional
// update, so two overlapping workers cannot both run the same row.
func (e *Engine) claim(exec *models.JourneyExecution) bool {
	now := e.now()
	res := e.db.Model(&models.JourneyExecution{}).
		Where("id = ? AND status = ?", exec.ID, models.ExecutionPending).
		Updates(map[string]interface{}{
			"status":          models.ExecutionProcessing,
			"attempts":        gorm.Expr("attempts + ?", 1),
			"last_attempt_at": now,
		})
	if res.Error != nil {
		e.log.WithError(res.Error).WithField("execution_id", exec.ID).Error("failed to claim execution")
		return false
	}
	if res.RowsAffected == 0 {
		return false
	}
	exec.Status = models.ExecutionProcessing
	exec.Attempts++
	exec.LastAttemptAt = &now
	return true
}

func (e *Engine) processExecution(exec *models.JourneyExecution) error {
	var lj models.LeadJourney
	if err := e.db.First(&lj, exec.LeadJourneyID).Error; err != nil {
		return fmt.Errorf("enrollment %d not found: %w", exec.LeadJourneyID, err)
	}

	// Paused or terminalized enrollments drop their scheduled work.
	if lj.Status != models.EnrollmentActive {
		return e.db.Model(exec).Update("status", models.ExecutionCancelled).Error
	}

	var lead models.Lead
	if err := e.db.First(&lead, lj.LeadID).Error; err != nil {
		return fmt.Errorf("lead %d not found: %w", lj.LeadID, err)
	}
	var tenant models.Tenant
	if err := e.db.First(&tenant, lj.TenantID).Error; err != nil {
		return fmt.Errorf("tenant %d not found: %w", lj.TenantID, err)
	}
	var journey models.Journey
	if err := e.db.Preload("Steps").First(&journey, lj.JourneyID).Error; err != nil {
		return fmt.Errorf("journey %d not found: %w", lj.JourneyID, err)
	}
	sortSteps(journey.Steps)

	step := findStep(journey.Steps, exec.StepID)
	if step == nil {
		return fmt.Errorf("step %d not found in journey %d", exec.StepID, journey.ID)
	}

	loc := e.location(&tenant)
	now := e.now().In(loc)

	// Business-hours gate: call steps always respect it, other steps
	// opt in via config. A tenant without a configured schedule is
	// unrestricted. Rescheduling is not a failure.
	if respectsBusinessHours(step) && len(tenant.BusinessHours) > 0 && !IsOpen(tenant.BusinessHours, now) {
		next := NextOpenTime(tenant.BusinessHours, now)
		e.log.WithFields(logrus.Fields{
			"execution_id": exec.ID,
			"next_open":    next,
		}).Info("tenant closed, rescheduling execution")
		return e.reschedule(exec, next)
	}

	// Conditions gate: failure is a skip, not an error. The step is
	// marked done and the enrollment still advances.
	if !ConditionsMet(step.Conditions, &lead, &lj) {
		result := models.JSONMap{"success": true, "conditions_met": false}
		if err := e.complete(exec, result); err != nil {
			return err
		}
		e.publish(&lj, step, result)
		return e.AdvanceJourney(&lj, &journey, step, &tenant)
	}

	result := e.ExecuteAction(step, &lead, &tenant, &lj)

	// Agent-unavailable (and similar) outcomes push the execution out
	// without running the step or advancing.
	if truthy(result["rescheduled"]) {
		e.log.WithFields(logrus.Fields{
			"execution_id": exec.ID,
			"reason":       result["reason"],
		}).Info("execution rescheduled by action")
		return e.reschedule(exec, e.now().Add(5*time.Minute))
	}

	if err := e.complete(exec, result); err != nil {
		return err
	}

	recordedAt := e.now()
	lj.ExecutionHistory = append(lj.ExecutionHistory, models.HistoryEntry{
		StepID:    step.ID,
		Timestamp: recordedAt,
		Action:    step.ActionType,
		Result:    result,
	})
	lj.LastExecutionTime = &recordedAt
	if err := e.db.Save(&lj).Error; err != nil {
		return fmt.Errorf("saving enrollment %d: %w", lj.ID, err)
	}

	e.publish(&lj, step, result)
	return e.AdvanceJourney(&lj, &journey, step, &tenant)
}

// retryOrFail applies the fixed backoff policy for unexpected errors:
// three strikes moves the execution to failed with its scheduled time
// frozen, anything earlier goes back to pending 15 minutes out.
func (e *Engine) retryOrFail(exec *models.JourneyExecution, cause error) {
	e.log.WithError(cause).WithFields(logrus.Fields{
		"execution_id": exec.ID,
		"attempts":     exec.Attempts,
	}).Error("execution processing failed")
	sentry.CaptureException(cause)

	updates := map[string]interface{}{
		"error_message": cause.Error(),
	}
	if exec.Attempts >= maxAttempts {
		updates["status"] = models.ExecutionFailed
	} else {
		updates["status"] = models.ExecutionPending
		updates["scheduled_time"] = e.now().Add(retryBackoff)
	}
	if err := e.db.Model(exec).Updates(updates).Error; err != nil {
		e.log.WithError(err).WithField("execution_id", exec.ID).Error("failed to record execution failure")
	}
}

func (e *Engine) reschedule(exec *models.JourneyExecution, at time.Time) error {
	return e.db.Model(exec).Updates(map[string]interface{}{
		"status":         models.ExecutionPending,
		"scheduled_time": at,
	}).Error
}

// complete marks the execution done. Map-based updates bypass column
// serializers, so the result must go through a struct update for its
// JSON serializer to apply.
func (e *Engine) complete(exec *models.JourneyExecution, result models.JSONMap) error {
	exec.Status = models.ExecutionCompleted
	exec.Result = result
	return e.db.Model(exec).Updates(models.JourneyExecution{
		Status: models.ExecutionCompleted,
		Result: result,
	}).Error
}

func (e *Engine) location(tenant *models.Tenant) *time.Location {
	if tenant.Timezone != "" {
		return tenant.Location()
	}
	if e.defaultTZ != "" {
		if loc, err := time.LoadLocation(e.defaultTZ); err == nil {
			return loc
		}
	}
	return time.UTC
}

// respectsBusinessHours reports whether the step may only run while
// the tenant is open. Call steps always do.
func respectsBusinessHours(step *models.JourneyStep) bool {
	return step.ActionType == models.ActionCall || cfgBool(step.ActionConfig, "respect_business_hours")
}

func sortSteps(steps []models.JourneyStep) {
	sort.Slice(steps, func(i, j int) bool {
		return steps[i].StepOrder < steps[j].StepOrder
	})
}

func findStep(steps []models.JourneyStep, id uint) *models.JourneyStep {
	for i := range steps {
		if steps[i].ID == id {
			return &steps[i]
		}
	}
	return nil
}

func truthy(v interface{}) bool {
	b, _ := v.(bool)
	return b
}
