package audit

import (
	"time"

	"github.com/tenantunion/tenant-platform/pkg/permissions"
)

// Action is the kind of change recorded in the permission audit log.
type Action string

const (
	ActionGranted Action = "granted"
	ActionRevoked Action = "revoked"
	// ActionExpired is written by the expiry sweeper when it purges a grant.
	ActionExpired Action = "expired"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionGranted, ActionRevoked, ActionExpired:
		return true
	}
	return false
}

// Entry is an immutable permission audit log row. IDs are UUIDv7, so ordering
// by ID is insertion order.
type Entry struct {
	ID          string                 `gorm:"primaryKey;column:id;type:varchar(64)"`
	UserID      string                 `gorm:"column:user_id;type:varchar(64);index:idx_paudit_tuple,priority:1;not null"`
	BuildingID  string                 `gorm:"column:building_id;type:varchar(64);index:idx_paudit_tuple,priority:2;index:idx_paudit_building;not null"`
	Permission  permissions.Permission `gorm:"column:permission;type:varchar(64);not null"`
	Action      Action                 `gorm:"column:action;type:varchar(16);not null"`
	PerformedBy string                 `gorm:"column:performed_by;type:varchar(64);not null"`
	Reason      string                 `gorm:"column:reason"`
	CreatedAt   time.Time              `gorm:"column:created_at;not null"`
}

// TableName returns the GORM table name.
func (Entry) TableName() string { return "permission_audit_logs" }
