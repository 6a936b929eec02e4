package models

import (
	"time"

	"gorm.io/gorm"
)

// StringList is a JSON-encoded list column (tags, outcome lists).
type StringList []string

// Contains reports whether the list holds the given value.
func (sl StringList) Contains(v string) bool {
	for _, s := range sl {
		if s == v {
			return true
		}
	}
	return false
}

// Lead represents a single contact being nurtured
type Lead struct {
	gorm.Model
	TenantID uint `gorm:"not null;index" json:"tenant_id"`

	Email     string `gorm:"index" json:"email"`
	Phone     string `gorm:"index" json:"phone"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company"`

	// Status progresses as journeys act on the lead
	Status string     `gorm:"default:'new';index" json:"status"` // new, contacted, qualified, converted, dead
	Tags   StringList `gorm:"type:jsonb;serializer:json" json:"tags"`

	// Call bookkeeping
	CallAttempts  int        `gorm:"default:0" json:"call_attempts"`
	LastContactAt *time.Time `json:"last_contact_at"`

	// Metadata
	Source         string `json:"source"`
	IsDoNotContact bool   `gorm:"default:false" json:"is_do_not_contact"`

	// Relations
	Enrollments []LeadJourney `gorm:"foreignKey:LeadID" json:"enrollments,omitempty"`
	CallLogs    []CallLog     `gorm:"foreignKey:LeadID" json:"call_logs,omitempty"`
}
