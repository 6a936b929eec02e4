package models

import (
	"time"

	"gorm.io/gorm"
)

// DayHours is one weekday entry of a business-hours schedule.
// Start and End are zero-padded 24h "HH:MM" strings.
type DayHours struct {
	Enabled bool   `json:"enabled"`
	Start   string `json:"start"`
	End     string `json:"end"`
}

// WeekSchedule maps lowercase weekday names ("monday".."sunday") to hours.
type WeekSchedule map[string]DayHours

// AgentAPIConfig points at the dialer's non-agent API used for
// ingroup agent-availability checks.
type AgentAPIConfig struct {
	URL     string `json:"url"`
	User    string `json:"user"`
	Pass    string `json:"pass"`
	Ingroup string `json:"ingroup"`
}

// AMIConfig holds the Asterisk Manager Interface credentials used to
// originate outbound calls for a tenant.
type AMIConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	Trunk    string `json:"trunk"`
	Context  string `json:"context"`
}

// Tenant represents one customer account on the platform
type Tenant struct {
	gorm.Model
	Name     string `gorm:"not null" json:"name"`
	Timezone string `gorm:"default:'America/New_York'" json:"timezone"`

	// Weekly business hours used to gate call steps
	BusinessHours WeekSchedule `gorm:"type:jsonb;serializer:json" json:"business_hours"`

	// Dialer integration
	AgentAPI     *AgentAPIConfig `gorm:"type:jsonb;serializer:json" json:"agent_api,omitempty"`
	AMI          *AMIConfig      `gorm:"type:jsonb;serializer:json" json:"ami,omitempty"`
	Brand        string          `json:"brand"`
	RecordingURL string          `json:"recording_url"`

	// Last-resort transfer destination when no group or brand lookup matches
	FallbackTransferNumber string `json:"fallback_transfer_number"`

	IsActive bool `gorm:"default:true" json:"is_active"`

	// Relations
	Users []User `gorm:"foreignKey:TenantID" json:"users,omitempty"`
	DIDs  []DID  `gorm:"foreignKey:TenantID" json:"dids,omitempty"`
}

// Location resolves the tenant timezone, falling back to UTC when the
// configured name does not load.
func (t *Tenant) Location() *time.Location {
	if t.Timezone != "" {
		if loc, err := time.LoadLocation(t.Timezone); err == nil {
			return loc
		}
	}
	return time.UTC
}

// DID is an outbound caller-ID number owned by a tenant. Selection is
// least-recently-used so numbers rotate evenly.
type DID struct {
	gorm.Model
	TenantID uint   `gorm:"not null;index" json:"tenant_id"`
	Number   string `gorm:"not null" json:"number"`
	IsActive bool   `gorm:"default:true" json:"is_active"`

	// Usage stats
	TotalCalls int        `gorm:"default:0" json:"total_calls"`
	LastUsedAt *time.Time `json:"last_used_at"`
}
