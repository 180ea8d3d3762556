// Package permissions defines the closed catalog of building-scoped admin
// permissions and the role templates the UI offers as presets.
package permissions

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// Permission is a single named capability granted per (user, building).
type Permission string

const (
	ViewAllIssues         Permission = "view_all_issues"
	ManageIssues          Permission = "manage_issues"
	ViewAllTenants        Permission = "view_all_tenants"
	ManageTenants         Permission = "manage_tenants"
	ViewAllCommunications Permission = "view_all_communications"
	ManageCommunications  Permission = "manage_communications"
	ManageDocuments       Permission = "manage_documents"
	ManageUnits           Permission = "manage_units"
	ManageBuilding        Permission = "manage_building"
	ManagePetitions       Permission = "manage_petitions"
	ManageMeetings        Permission = "manage_meetings"
	ExportData            Permission = "export_data"
	ManagePermissions     Permission = "manage_permissions"
)

// ErrUnknownPermission is returned by Parse for values outside the catalog.
var ErrUnknownPermission = errors.New("unknown permission")

// Definition describes a permission for display.
type Definition struct {
	Key         Permission `json:"key"`
	Group       string     `json:"group"`
	Description string     `json:"description"`
}

var definitions = []Definition{
	// Issues
	{ViewAllIssues, "Issues", "View every maintenance issue in the building"},
	{ManageIssues, "Issues", "Update, assign and close maintenance issues"},
	// Tenants
	{ViewAllTenants, "Tenants", "View tenant directory and contact details"},
	{ManageTenants, "Tenants", "Assign, transfer and vacate unit occupants"},
	// Communications
	{ViewAllCommunications, "Communications", "View all logged landlord communications"},
	{ManageCommunications, "Communications", "Edit communication logs and templates"},
	// Building
	{ManageDocuments, "Building", "Upload and remove building documents"},
	{ManageUnits, "Building", "Create and edit units"},
	{ManageBuilding, "Building", "Edit building details"},
	// Organizing
	{ManagePetitions, "Organizing", "Create and close petitions"},
	{ManageMeetings, "Organizing", "Schedule meetings and record minutes"},
	// Data
	{ExportData, "Data", "Export building data"},
	// Admin
	{ManagePermissions, "Admin", "Grant and revoke admin permissions"},
}

var byKey = func() map[Permission]Definition {
	m := make(map[Permission]Definition, len(definitions))
	for _, d := range definitions {
		m[d.Key] = d
	}
	return m
}()

// All returns every permission in catalog order.
func All() []Permission {
	out := make([]Permission, len(definitions))
	for i, d := range definitions {
		out[i] = d.Key
	}
	return out
}

// Definitions returns the catalog with descriptions.
func Definitions() []Definition {
	out := make([]Definition, len(definitions))
	copy(out, definitions)
	return out
}

// Info looks up the definition for p.
func Info(p Permission) (Definition, bool) {
	d, ok := byKey[p]
	return d, ok
}

// Valid reports whether p is part of the catalog.
func Valid(p Permission) bool {
	_, ok := byKey[p]
	return ok
}

// Parse converts s to a Permission, rejecting anything outside the catalog.
func Parse(s string) (Permission, error) {
	p := Permission(strings.TrimSpace(s))
	if !Valid(p) {
		return "", fmt.Errorf("%w: %q", ErrUnknownPermission, s)
	}
	return p, nil
}

// ParseAll parses every element of ss, failing on the first unknown value.
func ParseAll(ss []string) ([]Permission, error) {
	out := make([]Permission, 0, len(ss))
	for _, s := range ss {
		p, err := Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Set is an unordered permission set.
type Set = mapset.Set[Permission]

// NewSet returns a thread-safe set containing ps.
func NewSet(ps ...Permission) Set {
	return mapset.NewSet(ps...)
}

// Sorted returns the members of s in lexical order.
func Sorted(s Set) []Permission {
	if s == nil {
		return nil
	}
	out := s.ToSlice()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
