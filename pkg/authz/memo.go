package authz

import (
	"context"
	"sync"

	"github.com/tenantunion/tenant-platform/pkg/permissions"
)

// evaluatorCtxKey is the context key for the request-scoped evaluator.
type evaluatorCtxKey struct{}

// MemoEvaluator wraps another Evaluator and remembers every answer for its
// lifetime. It is meant to live for a single request, so no entry ever
// expires. Errors are not remembered.
type MemoEvaluator struct {
	inner Evaluator

	mu        sync.Mutex
	decisions map[memoKey]bool
	sets      map[memoKey]permissions.Set
}

// NewMemoEvaluator creates a MemoEvaluator around inner.
func NewMemoEvaluator(inner Evaluator) *MemoEvaluator {
	return &MemoEvaluator{
		inner:     inner,
		decisions: make(map[memoKey]bool),
		sets:      make(map[memoKey]permissions.Set),
	}
}

// HasPermission checks the memo first and delegates on miss.
func (m *MemoEvaluator) HasPermission(ctx context.Context, s Subject, buildingID string, p permissions.Permission) (bool, error) {
	key := newMemoKey(s, buildingID, p)

	m.mu.Lock()
	allowed, ok := m.decisions[key]
	set, haveSet := m.sets[newMemoKey(s, buildingID, "")]
	m.mu.Unlock()

	if ok {
		return allowed, nil
	}
	if haveSet {
		return set.Contains(p), nil
	}

	allowed, err := m.inner.HasPermission(ctx, s, buildingID, p)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	m.decisions[key] = allowed
	m.mu.Unlock()

	return allowed, nil
}

// HasAny evaluates each permission through the memo.
func (m *MemoEvaluator) HasAny(ctx context.Context, s Subject, buildingID string, ps []permissions.Permission) (bool, error) {
	return anyOf(ctx, m, s, buildingID, ps)
}

// HasAll evaluates each permission through the memo.
func (m *MemoEvaluator) HasAll(ctx context.Context, s Subject, buildingID string, ps []permissions.Permission) (bool, error) {
	return allOf(ctx, m, s, buildingID, ps)
}

// ListPermissions returns a copy of the memoized set, loading it on miss.
func (m *MemoEvaluator) ListPermissions(ctx context.Context, s Subject, buildingID string) (permissions.Set, error) {
	key := newMemoKey(s, buildingID, "")

	m.mu.Lock()
	set, ok := m.sets[key]
	m.mu.Unlock()

	if ok {
		return set.Clone(), nil
	}

	set, err := m.inner.ListPermissions(ctx, s, buildingID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sets[key] = set.Clone()
	m.mu.Unlock()

	return set, nil
}

// memoKey identifies one answer. An empty perm addresses the whole set.
type memoKey struct {
	user, email, building string
	perm                  permissions.Permission
}

func newMemoKey(s Subject, buildingID string, p permissions.Permission) memoKey {
	return memoKey{user: s.UserID, email: normalizeEmail(s.Email), building: buildingID, perm: p}
}

// WithEvaluator returns a new context carrying ev.
func WithEvaluator(ctx context.Context, ev Evaluator) context.Context {
	return context.WithValue(ctx, evaluatorCtxKey{}, ev)
}

// EvaluatorFromContext returns the request-scoped evaluator attached by the
// guard, or fallback if none is set.
func EvaluatorFromContext(ctx context.Context, fallback Evaluator) Evaluator {
	if ev, ok := ctx.Value(evaluatorCtxKey{}).(Evaluator); ok {
		return ev
	}
	return fallback
}
