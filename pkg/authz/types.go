// Package authz decides whether a caller may act on a building. Decisions
// come from per-building permission grants, with a configured superuser
// allowlist that bypasses the grant lookup entirely.
package authz

import (
	"context"

	"github.com/tenantunion/tenant-platform/pkg/permissions"
)

// Subject is the authenticated caller as supplied by the identity provider.
type Subject struct {
	UserID string
	Email  string
}

// Evaluator answers permission questions for a subject within a building.
// A missing grant is a false result, never an error; storage errors are
// returned unchanged.
type Evaluator interface {
	HasPermission(ctx context.Context, s Subject, buildingID string, p permissions.Permission) (bool, error)
	// HasAny is false for an empty list.
	HasAny(ctx context.Context, s Subject, buildingID string, ps []permissions.Permission) (bool, error)
	// HasAll is true for an empty list.
	HasAll(ctx context.Context, s Subject, buildingID string, ps []permissions.Permission) (bool, error)
	ListPermissions(ctx context.Context, s Subject, buildingID string) (permissions.Set, error)
}

// GrantChecker is the read side of the grant store.
type GrantChecker interface {
	HasActive(ctx context.Context, userID, buildingID string, p permissions.Permission) (bool, error)
	ActivePermissions(ctx context.Context, userID, buildingID string) (permissions.Set, error)
}
