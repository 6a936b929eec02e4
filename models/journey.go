package models

import (
	"time"

	"gorm.io/gorm"
)

// Enrollment statuses
const (
	EnrollmentActive    = "active"
	EnrollmentPaused    = "paused"
	EnrollmentCompleted = "completed"
	EnrollmentExited    = "exited"
)

// Execution statuses
const (
	ExecutionPending    = "pending"
	ExecutionProcessing = "processing"
	ExecutionCompleted  = "completed"
	ExecutionCancelled  = "cancelled"
	ExecutionFailed     = "failed"
)

// Step action types
const (
	ActionCall         = "call"
	ActionSMS          = "sms"
	ActionEmail        = "email"
	ActionStatusChange = "status_change"
	ActionTagUpdate    = "tag_update"
	ActionWebhook      = "webhook"
	ActionDelay        = "delay"
)

// Step delay types
const (
	DelayImmediate       = "immediate"
	DelayFixedTime       = "fixed_time"
	DelayAfterPrevious   = "delay_after_previous"
	DelayAfterEnrollment = "delay_after_enrollment"
	DelaySpecificDays    = "specific_days"
)

// JSONMap is a free-form JSON object column (step configs, results).
type JSONMap map[string]interface{}

// Journey is a reusable, ordered template of steps applied to leads
type Journey struct {
	gorm.Model
	TenantID uint `gorm:"not null;index" json:"tenant_id"`

	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`
	IsActive    bool   `gorm:"default:true" json:"is_active"`

	// How many repeat cycles of the step sequence to run before terminating.
	// 0 means the journey runs a single pass.
	RepeatDays int `gorm:"default:0" json:"repeat_days"`

	// Relations
	Steps []JourneyStep `gorm:"foreignKey:JourneyID" json:"steps,omitempty"`
}

// StepConditions gates a step. All present clauses must pass.
type StepConditions struct {
	Status       string   `json:"status,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	CallOutcomes []string `json:"call_outcomes,omitempty"`
}

// Empty reports whether no clause is configured.
func (sc *StepConditions) Empty() bool {
	return sc == nil || (sc.Status == "" && len(sc.Tags) == 0 && len(sc.CallOutcomes) == 0)
}

// JourneyStep is one node of a journey, ordered by StepOrder
type JourneyStep struct {
	gorm.Model
	JourneyID uint `gorm:"not null;index" json:"journey_id"`

	StepOrder  int    `gorm:"not null" json:"step_order"`
	ActionType string `gorm:"not null" json:"action_type"`

	ActionConfig JSONMap         `gorm:"type:jsonb;serializer:json" json:"action_config"`
	DelayType    string          `gorm:"default:'immediate'" json:"delay_type"`
	DelayConfig  JSONMap         `gorm:"type:jsonb;serializer:json" json:"delay_config"`
	Conditions   *StepConditions `gorm:"type:jsonb;serializer:json" json:"conditions,omitempty"`

	IsActive    bool `gorm:"default:true" json:"is_active"`
	IsExitPoint bool `gorm:"default:false" json:"is_exit_point"`
	IsDayEnd    bool `gorm:"default:false" json:"is_day_end"`
}

// HistoryEntry is one append-only record of a step that ran for an enrollment.
type HistoryEntry struct {
	StepID    uint      `json:"step_id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Result    JSONMap   `json:"result"`
}

// LeadJourney is one lead's live run through one journey
type LeadJourney struct {
	gorm.Model
	TenantID  uint `gorm:"not null;index" json:"tenant_id"`
	LeadID    uint `gorm:"not null;index" json:"lead_id"`
	JourneyID uint `gorm:"not null;index" json:"journey_id"`

	Status        string `gorm:"default:'active';index" json:"status"`
	CurrentStepID *uint  `json:"current_step_id"`
	DayCount      int    `gorm:"default:1" json:"day_count"`

	NextExecutionTime *time.Time `json:"next_execution_time"`
	LastExecutionTime *time.Time `json:"last_execution_time"`
	StartedAt         *time.Time `json:"started_at"`
	CompletedAt       *time.Time `json:"completed_at"`

	ContextData      JSONMap        `gorm:"type:jsonb;serializer:json" json:"context_data"`
	ExecutionHistory []HistoryEntry `gorm:"type:jsonb;serializer:json" json:"execution_history"`

	// Relations
	Lead    Lead    `json:"-"`
	Journey Journey `json:"-"`
}

// LastCallResult returns the result of the most recent call entry in the
// execution history, or nil when no call has run yet.
func (lj *LeadJourney) LastCallResult() JSONMap {
	for i := len(lj.ExecutionHistory) - 1; i >= 0; i-- {
		if lj.ExecutionHistory[i].Action == ActionCall {
			return lj.ExecutionHistory[i].Result
		}
	}
	return nil
}

// JourneyExecution is one scheduled unit of work: run one step for one
// enrollment at ScheduledTime. Retries update the same record.
type JourneyExecution struct {
	gorm.Model
	LeadJourneyID uint `gorm:"not null;index" json:"lead_journey_id"`
	StepID        uint `gorm:"not null;index" json:"step_id"`

	ScheduledTime time.Time `gorm:"not null;index" json:"scheduled_time"`
	Status        string    `gorm:"default:'pending';index" json:"status"`

	Attempts      int        `gorm:"default:0" json:"attempts"`
	LastAttemptAt *time.Time `json:"last_attempt_at"`
	ErrorMessage  string     `json:"error_message"`
	Result        JSONMap    `gorm:"type:jsonb;serializer:json" json:"result"`

	// Relations
	LeadJourney LeadJourney `json:"-"`
}
