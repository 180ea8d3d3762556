package scope

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/tenantunion/tenant-platform/pkg/cache"
)

// ResourceLookup maps building-owned resources to their building. Both
// methods return "" and a nil error when the resource does not exist.
type ResourceLookup interface {
	IssueBuilding(ctx context.Context, issueID string) (string, error)
	UnitBuilding(ctx context.Context, unitID string) (string, error)
}

// PathResolver finds the building addressed by the URL path. A
// buildings/{id} segment names it directly; issues/{id} and units/{id} are
// looked up. Lookups are cached when a cache is configured.
type PathResolver struct {
	lookup ResourceLookup
	cache  *cache.LRUCache[string, string]
}

// NewPathResolver creates a PathResolver. c may be nil to disable caching.
func NewPathResolver(lookup ResourceLookup, c *cache.LRUCache[string, string]) *PathResolver {
	return &PathResolver{lookup: lookup, cache: c}
}

// Resolve walks the path segments left to right and uses the first
// building-scoped resource it finds. A missing issue or unit is
// ErrResourceNotFound.
func (p *PathResolver) Resolve(r *http.Request) (string, error) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")

	for i := 0; i+1 < len(parts); i++ {
		id := stripAction(parts[i+1])
		if id == "" {
			continue
		}
		switch parts[i] {
		case "buildings":
			if err := ValidateBuildingID(id); err != nil {
				return "", err
			}
			return id, nil
		case "issues":
			return p.resolve(r.Context(), "issue", id)
		case "units":
			return p.resolve(r.Context(), "unit", id)
		}
	}
	return "", ErrNoBuilding
}

func (p *PathResolver) resolve(ctx context.Context, kind, id string) (string, error) {
	if p.lookup == nil {
		return "", ErrNoBuilding
	}
	load := func(ctx context.Context) (string, bool, error) {
		var (
			buildingID string
			err        error
		)
		if kind == "issue" {
			buildingID, err = p.lookup.IssueBuilding(ctx, id)
		} else {
			buildingID, err = p.lookup.UnitBuilding(ctx, id)
		}
		if err != nil {
			return "", false, fmt.Errorf("look up %s building: %w", kind, err)
		}
		return buildingID, buildingID != "", nil
	}

	var (
		buildingID string
		found      bool
		err        error
	)
	if p.cache != nil {
		buildingID, found, err = p.cache.GetOrLoad(ctx, kind+":"+id, load)
	} else {
		buildingID, found, err = load(ctx)
	}
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("%s %q: %w", kind, id, ErrResourceNotFound)
	}
	return buildingID, nil
}

// stripAction removes a ":verb" suffix such as "superusers:reload".
func stripAction(seg string) string {
	if idx := strings.Index(seg, ":"); idx >= 0 {
		return seg[:idx]
	}
	return seg
}

// MembershipLookup returns a user's primary building, or "" if none.
type MembershipLookup interface {
	PrimaryBuilding(ctx context.Context, userID string) (string, error)
}

// MembershipResolver falls back to the authenticated user's own building.
type MembershipResolver struct {
	Lookup MembershipLookup
	// UserID extracts the authenticated user from the request.
	UserID func(r *http.Request) (string, bool)
}

// Resolve returns the caller's primary building.
func (m MembershipResolver) Resolve(r *http.Request) (string, error) {
	if m.Lookup == nil || m.UserID == nil {
		return "", ErrNoBuilding
	}
	userID, ok := m.UserID(r)
	if !ok {
		return "", ErrNoBuilding
	}
	buildingID, err := m.Lookup.PrimaryBuilding(r.Context(), userID)
	if err != nil {
		return "", fmt.Errorf("look up primary building: %w", err)
	}
	if buildingID == "" {
		return "", ErrNoBuilding
	}
	return buildingID, nil
}
