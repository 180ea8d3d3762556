// Package buildings holds the building, unit and membership records the
// authorization layer resolves against, and the occupancy state machine
// that is the only writer of a tenancy's current flag.
package buildings

import (
	"time"
)

// Role is a user's standing within a building.
type Role string

const (
	RoleTenant           Role = "tenant"
	RoleAssociationAdmin Role = "association_admin"
	RoleBuildingAdmin    Role = "building_admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleTenant, RoleAssociationAdmin, RoleBuildingAdmin:
		return true
	}
	return false
}

// User is a person known to the platform. Users are never hard-deleted.
type User struct {
	ID                    string    `gorm:"primaryKey;column:id;type:varchar(64)" json:"id"`
	ExternalID            string    `gorm:"column:external_id;type:varchar(255);uniqueIndex:ux_users_external_id;not null" json:"externalId"`
	Email                 string    `gorm:"column:email;type:varchar(320);index:idx_users_email;not null" json:"email"`
	Name                  string    `gorm:"column:name;type:varchar(255)" json:"name,omitempty"`
	Phone                 string    `gorm:"column:phone;type:varchar(64)" json:"phone,omitempty"`
	ShareContact          bool      `gorm:"column:share_contact;not null;default:false" json:"shareContact"`
	AllowNeighborMessages bool      `gorm:"column:allow_neighbor_messages;not null;default:false" json:"allowNeighborMessages"`
	CreatedAt             time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt             time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

// TableName returns the GORM table name.
func (User) TableName() string { return "users" }

// Building is a property an association organizes in.
type Building struct {
	ID            string    `gorm:"primaryKey;column:id;type:varchar(64)" json:"id"`
	Name          string    `gorm:"column:name;type:varchar(255);not null" json:"name"`
	Address       string    `gorm:"column:address;type:varchar(512)" json:"address"`
	Floors        int       `gorm:"column:floors;not null;default:0" json:"floors"`
	UnitsPerFloor int       `gorm:"column:units_per_floor;not null;default:0" json:"unitsPerFloor"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

// TableName returns the GORM table name.
func (Building) TableName() string { return "buildings" }

// Unit is an apartment within a building, numbered <floor><line letter>.
type Unit struct {
	ID         string    `gorm:"primaryKey;column:id;type:varchar(64)" json:"id"`
	BuildingID string    `gorm:"column:building_id;type:varchar(64);uniqueIndex:ux_units_building_number,priority:1;not null" json:"buildingId"`
	Number     string    `gorm:"column:number;type:varchar(16);uniqueIndex:ux_units_building_number,priority:2;not null" json:"number"`
	Floor      int       `gorm:"column:floor;not null" json:"floor"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

// TableName returns the GORM table name.
func (Unit) TableName() string { return "units" }

// Tenancy records a user occupying a unit. At most one tenancy per unit is
// current; only Assign, Transfer and Vacate change IsCurrent.
type Tenancy struct {
	ID        string     `gorm:"primaryKey;column:id;type:varchar(64)" json:"id"`
	UserID    string     `gorm:"column:user_id;type:varchar(64);index:idx_tenancies_user;not null" json:"userId"`
	UnitID    string     `gorm:"column:unit_id;type:varchar(64);index:idx_tenancies_unit;not null" json:"unitId"`
	StartDate time.Time  `gorm:"column:start_date;not null" json:"startDate"`
	EndDate   *time.Time `gorm:"column:end_date" json:"endDate,omitempty"`
	IsCurrent bool       `gorm:"column:is_current;not null;default:false" json:"isCurrent"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

// TableName returns the GORM table name.
func (Tenancy) TableName() string { return "tenancies" }

// BuildingRole is a user's role in a building; one per (user, building).
type BuildingRole struct {
	ID         string    `gorm:"primaryKey;column:id;type:varchar(64)" json:"id"`
	UserID     string    `gorm:"column:user_id;type:varchar(64);uniqueIndex:ux_building_roles_user_building,priority:1;not null" json:"userId"`
	BuildingID string    `gorm:"column:building_id;type:varchar(64);uniqueIndex:ux_building_roles_user_building,priority:2;index:idx_building_roles_building;not null" json:"buildingId"`
	Role       Role      `gorm:"column:role;type:varchar(32);not null" json:"role"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

// TableName returns the GORM table name.
func (BuildingRole) TableName() string { return "building_roles" }

// Issue is the minimal maintenance issue record needed to scope requests.
type Issue struct {
	ID         string    `gorm:"primaryKey;column:id;type:varchar(64)" json:"id"`
	BuildingID string    `gorm:"column:building_id;type:varchar(64);index:idx_issues_building;not null" json:"buildingId"`
	UnitID     *string   `gorm:"column:unit_id;type:varchar(64)" json:"unitId,omitempty"`
	Title      string    `gorm:"column:title;type:varchar(255);not null" json:"title"`
	Status     string    `gorm:"column:status;type:varchar(32);not null;default:'open'" json:"status"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

// TableName returns the GORM table name.
func (Issue) TableName() string { return "issues" }
