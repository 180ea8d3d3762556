package authz

import (
	"context"

	"github.com/tenantunion/tenant-platform/pkg/permissions"
)

// StoreEvaluator answers from the grant store, after checking the superuser
// allowlist. Superuser checks never touch the store.
type StoreEvaluator struct {
	grants     GrantChecker
	superusers *Superusers
}

// NewStoreEvaluator creates a StoreEvaluator. superusers may be nil.
func NewStoreEvaluator(grants GrantChecker, superusers *Superusers) *StoreEvaluator {
	return &StoreEvaluator{grants: grants, superusers: superusers}
}

// HasPermission reports whether s holds p in buildingID.
func (e *StoreEvaluator) HasPermission(ctx context.Context, s Subject, buildingID string, p permissions.Permission) (bool, error) {
	if e.superusers.Contains(s.Email) {
		return true, nil
	}
	if s.UserID == "" || buildingID == "" {
		return false, nil
	}
	return e.grants.HasActive(ctx, s.UserID, buildingID, p)
}

// HasAny reports whether s holds at least one of ps.
func (e *StoreEvaluator) HasAny(ctx context.Context, s Subject, buildingID string, ps []permissions.Permission) (bool, error) {
	return anyOf(ctx, e, s, buildingID, ps)
}

// HasAll reports whether s holds every one of ps.
func (e *StoreEvaluator) HasAll(ctx context.Context, s Subject, buildingID string, ps []permissions.Permission) (bool, error) {
	return allOf(ctx, e, s, buildingID, ps)
}

// ListPermissions returns the full catalog for superusers and the active
// grants otherwise.
func (e *StoreEvaluator) ListPermissions(ctx context.Context, s Subject, buildingID string) (permissions.Set, error) {
	if e.superusers.Contains(s.Email) {
		return permissions.NewSet(permissions.All()...), nil
	}
	if s.UserID == "" || buildingID == "" {
		return permissions.NewSet(), nil
	}
	return e.grants.ActivePermissions(ctx, s.UserID, buildingID)
}

// anyOf and allOf stop at the first decisive answer.
func anyOf(ctx context.Context, ev Evaluator, s Subject, buildingID string, ps []permissions.Permission) (bool, error) {
	for _, p := range ps {
		ok, err := ev.HasPermission(ctx, s, buildingID, p)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func allOf(ctx context.Context, ev Evaluator, s Subject, buildingID string, ps []permissions.Permission) (bool, error) {
	for _, p := range ps {
		ok, err := ev.HasPermission(ctx, s, buildingID, p)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
