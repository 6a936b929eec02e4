package models

import (
	"gorm.io/gorm"
)

// User represents an operator account scoped to a tenant
type User struct {
	gorm.Model

	TenantID uint `gorm:"not null;index" json:"tenant_id"`

	// Authentication fields
	Email        string `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string `gorm:"not null" json:"-"`

	// Profile information
	Name     string `json:"name"`
	Timezone string `gorm:"default:'UTC'" json:"timezone"`

	// Account status
	IsActive     bool `gorm:"default:true" json:"is_active"`
	IsAdmin      bool `gorm:"default:false" json:"is_admin"`
	TokenVersion int  `gorm:"default:0" json:"-"`

	// Relations
	Tenant Tenant `json:"-"`
}
