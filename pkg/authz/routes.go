package authz

import (
	"fmt"
	"sort"

	"github.com/tenantunion/tenant-platform/pkg/permissions"
)

// Route names for guarded endpoints. Requirements are looked up by name so
// deployments can tighten or relax a route without code changes.
const (
	RouteListBuildingGrants = "buildings.permissions.list"
	RouteListUserGrants     = "buildings.users.permissions.list"
	RouteGrant              = "buildings.permissions.grant"
	RouteRevoke             = "buildings.permissions.revoke"
	RouteAuditList          = "buildings.permissions.audit"
	RouteIssueGet           = "issues.get"
	RouteTenancyAssign      = "units.tenancy.assign"
	RouteTenancyVacate      = "units.tenancy.vacate"
)

// RouteTable maps route names to requirements.
type RouteTable map[string]Requirement

// DefaultRoutes returns the built-in requirement for every guarded route.
func DefaultRoutes() RouteTable {
	return RouteTable{
		RouteListBuildingGrants: Require(permissions.ManagePermissions),
		RouteListUserGrants:     Require(permissions.ManagePermissions),
		RouteGrant:              Require(permissions.ManagePermissions),
		RouteRevoke:             Require(permissions.ManagePermissions),
		RouteAuditList:          Require(permissions.ManagePermissions),
		RouteIssueGet:           AnyOf(permissions.ViewAllIssues, permissions.ManageIssues),
		RouteTenancyAssign:      Require(permissions.ManageTenants),
		RouteTenancyVacate:      Require(permissions.ManageTenants),
	}
}

// NewRouteTable returns DefaultRoutes with overrides applied. Overrides are
// requirement expressions keyed by route name; unknown names are rejected.
func NewRouteTable(overrides map[string]string) (RouteTable, error) {
	table := DefaultRoutes()
	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, ok := table[name]; !ok {
			return nil, fmt.Errorf("unknown guarded route %q", name)
		}
		req, err := ParseRequirement(overrides[name])
		if err != nil {
			return nil, fmt.Errorf("route %q: %w", name, err)
		}
		table[name] = req
	}
	return table, nil
}

// Get returns the requirement for name. Unknown names yield the zero
// Requirement, which denies everyone but superusers.
func (t RouteTable) Get(name string) Requirement {
	return t[name]
}
