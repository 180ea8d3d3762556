package main

import "github.com/tenantunion/tenant-platform/pkg/permissions"

type catalogResponse struct {
	Permissions []permissions.Definition           `json:"permissions"`
	Templates   map[string][]permissions.Permission `json:"templates"`
}

type myPermissionsResponse struct {
	BuildingID  string                   `json:"buildingId"`
	Permissions []permissions.Permission `json:"permissions"`
	Superuser   bool                     `json:"superuser"`
}

type grant struct {
	ID         string                 `json:"id"`
	UserID     string                 `json:"userId"`
	BuildingID string                 `json:"buildingId"`
	Permission permissions.Permission `json:"permission"`
	GrantedBy  string                 `json:"grantedBy"`
	ExpiresAt  string                 `json:"expiresAt,omitempty"`
	CreatedAt  string                 `json:"createdAt"`
}

type grantListResponse struct {
	BuildingID string  `json:"buildingId"`
	UserID     string  `json:"userId,omitempty"`
	Grants     []grant `json:"grants"`
}

type grantRequest struct {
	UserID     string `json:"userId"`
	Permission string `json:"permission,omitempty"`
	Template   string `json:"template,omitempty"`
	ExpiresAt  string `json:"expiresAt,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

type auditEntry struct {
	ID          string `json:"id"`
	UserID      string `json:"userId"`
	BuildingID  string `json:"buildingId"`
	Permission  string `json:"permission"`
	Action      string `json:"action"`
	PerformedBy string `json:"performedBy"`
	Reason      string `json:"reason,omitempty"`
	CreatedAt   string `json:"createdAt"`
}

type auditListResponse struct {
	Entries       []auditEntry `json:"entries"`
	NextPageToken string       `json:"nextPageToken,omitempty"`
	TotalSize     int          `json:"totalSize"`
}

// checkResult is printed by "permissions check".
type checkResult struct {
	BuildingID  string   `json:"buildingId"`
	UserID      string   `json:"userId,omitempty"`
	Requirement string   `json:"requirement"`
	Allowed     bool     `json:"allowed"`
	Held        []string `json:"held"`
}
