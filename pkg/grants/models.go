package grants

import (
	"time"

	"github.com/tenantunion/tenant-platform/pkg/permissions"
)

// AdminPermission is a single permission granted to a user for a building.
// The (user, building, permission) tuple is unique.
type AdminPermission struct {
	ID         string                 `gorm:"primaryKey;column:id;type:varchar(64)" json:"id"`
	UserID     string                 `gorm:"column:user_id;type:varchar(64);uniqueIndex:ux_admin_perm_tuple,priority:1;not null" json:"userId"`
	BuildingID string                 `gorm:"column:building_id;type:varchar(64);uniqueIndex:ux_admin_perm_tuple,priority:2;index:idx_admin_perm_building;not null" json:"buildingId"`
	Permission permissions.Permission `gorm:"column:permission;type:varchar(64);uniqueIndex:ux_admin_perm_tuple,priority:3;not null" json:"permission"`
	GrantedBy  string                 `gorm:"column:granted_by;type:varchar(64);not null" json:"grantedBy"`
	ExpiresAt  *time.Time             `gorm:"column:expires_at;index:idx_admin_perm_expiry" json:"expiresAt,omitempty"`
	CreatedAt  time.Time              `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt  time.Time              `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

// TableName returns the GORM table name.
func (AdminPermission) TableName() string { return "admin_permissions" }

// ActiveAt reports whether the grant is in force at t.
func (p AdminPermission) ActiveAt(t time.Time) bool {
	return p.ExpiresAt == nil || p.ExpiresAt.After(t)
}

// GrantRequest describes a single grant.
type GrantRequest struct {
	UserID     string
	BuildingID string
	Permission permissions.Permission
	GrantedBy  string
	ExpiresAt  *time.Time
	Reason     string
}

// RevokeRequest describes a single revoke.
type RevokeRequest struct {
	UserID     string
	BuildingID string
	Permission permissions.Permission
	RevokedBy  string
	Reason     string
}
