package models

import (
	"time"

	"gorm.io/gorm"
)

// Call statuses
const (
	CallInitiated = "initiated"
	CallAnswered  = "answered"
	CallConnected = "connected"
	CallEnded     = "ended"
	CallFailed    = "failed"
)

// CallLog is one outbound call attempt placed by the journey engine
type CallLog struct {
	gorm.Model
	TenantID      uint  `gorm:"not null;index" json:"tenant_id"`
	LeadID        uint  `gorm:"not null;index" json:"lead_id"`
	LeadJourneyID *uint `gorm:"index" json:"lead_journey_id,omitempty"`
	StepID        *uint `json:"step_id,omitempty"`

	CallID string `gorm:"uniqueIndex;not null" json:"call_id"`
	Status string `gorm:"default:'initiated';index" json:"status"`

	// Routing details as resolved at dial time
	CallerID       string `json:"caller_id"` // DID used for the outbound leg
	TransferNumber string `json:"transfer_number"`
	Ingroup        string `json:"ingroup"`
	Brand          string `json:"brand"`
	DialerContext  string `json:"dialer_context"`

	// Result, filled by dialer status callbacks
	Outcome     string     `json:"outcome"` // answered, voicemail, busy, no_answer
	StartedAt   *time.Time `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at"`
	DurationSec int        `gorm:"default:0" json:"duration_sec"`

	// Relations
	Lead Lead `json:"-"`
}
