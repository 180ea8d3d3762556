// Package scope resolves which building a request acts on. Resolvers are
// tried in order and the first one that finds a building wins.
package scope

import (
	"context"
	"errors"
)

var (
	// ErrBuildingContextRequired is returned when no resolver found a building.
	ErrBuildingContextRequired = errors.New("building context required")

	// ErrInvalidBuildingID is returned for a malformed explicit building id.
	ErrInvalidBuildingID = errors.New("invalid building id")

	// ErrBuildingMismatch is returned when the authorized building differs
	// from the one named in the URL path.
	ErrBuildingMismatch = errors.New("building in request does not match building in path")

	// ErrResourceNotFound is returned when the path addresses an issue or unit
	// that does not exist. It stops resolution so no later resolver can
	// substitute another building.
	ErrResourceNotFound = errors.New("addressed resource not found")
)

// ctxKey is an unexported type used as the context key for the building id.
type ctxKey struct{}

// WithBuilding returns a new context with the resolved building id attached.
func WithBuilding(ctx context.Context, buildingID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, buildingID)
}

// BuildingFromContext retrieves the building id from the context.
// Returns "" and false if no building is set.
func BuildingFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}
