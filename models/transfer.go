package models

import (
	"time"

	"gorm.io/gorm"
)

// Transfer group routing types
const (
	RouteRoundRobin   = "roundrobin"
	RoutePriority     = "priority"
	RoutePercentage   = "percentage"
	RouteSimultaneous = "simultaneous"
)

// TransferGroup is a tenant-scoped routing policy owning an ordered set
// of candidate transfer numbers
type TransferGroup struct {
	gorm.Model
	TenantID uint `gorm:"not null;index" json:"tenant_id"`

	Name string `gorm:"not null" json:"name"`
	Type string `gorm:"default:'roundrobin'" json:"type"` // roundrobin, priority, percentage, simultaneous

	// Optional per-group routing overrides; empty values fall back to the
	// tenant defaults when a call step resolves its routing config.
	Brand         string          `json:"brand"`
	Ingroup       string          `json:"ingroup"`
	AgentAPI      *AgentAPIConfig `gorm:"type:jsonb;serializer:json" json:"agent_api,omitempty"`
	DialerContext string          `json:"dialer_context"`

	IsActive bool `gorm:"default:true" json:"is_active"`

	// Relations
	Numbers []TransferNumber `gorm:"foreignKey:TransferGroupID" json:"numbers,omitempty"`
}

// TransferNumber is one candidate destination in a transfer group.
// Stats are bumped on every selection, whether or not the call succeeds.
type TransferNumber struct {
	gorm.Model
	TransferGroupID uint `gorm:"not null;index" json:"transfer_group_id"`

	PhoneNumber string `gorm:"not null" json:"phone_number"`
	Priority    int    `gorm:"default:1" json:"priority"`
	Weight      int    `gorm:"default:1" json:"weight"`
	IsActive    bool   `gorm:"default:true" json:"is_active"`

	// Per-number business hours restriction
	HoursEnabled bool         `gorm:"default:false" json:"hours_enabled"`
	Schedule     WeekSchedule `gorm:"type:jsonb;serializer:json" json:"schedule"`
	Timezone     string       `json:"timezone"`

	// Usage stats
	TotalCalls int        `gorm:"default:0" json:"total_calls"`
	CallsToday int        `gorm:"default:0" json:"calls_today"`
	LastCallAt *time.Time `json:"last_call_at"`
}

// Location resolves the number's timezone, falling back to UTC.
func (tn *TransferNumber) Location() *time.Location {
	if tn.Timezone != "" {
		if loc, err := time.LoadLocation(tn.Timezone); err == nil {
			return loc
		}
	}
	return time.UTC
}
