package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/tenantunion/tenant-platform/pkg/authz"
	"github.com/tenantunion/tenant-platform/pkg/buildings"
	"github.com/tenantunion/tenant-platform/pkg/grants"
	"github.com/tenantunion/tenant-platform/pkg/permissions"
	"github.com/tenantunion/tenant-platform/pkg/scope"
)

type errorBody struct {
	Error    string             `json:"error"`
	Required *authz.Requirement `json:"required,omitempty"`
}

// writeError maps err to a status code and JSON body. Unexpected errors
// are logged with the request id and reported without detail.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var (
		fe *authz.ForbiddenError
		ve validator.ValidationErrors
	)
	switch {
	case errors.Is(err, authz.ErrUnauthenticated):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthenticated"})
	case errors.As(err, &fe):
		writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden", Required: &fe.Required})
	case errors.Is(err, scope.ErrBuildingContextRequired),
		errors.Is(err, scope.ErrInvalidBuildingID),
		errors.Is(err, scope.ErrBuildingMismatch):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: formatValidationErrors(ve).Error()})
	case errors.Is(err, permissions.ErrUnknownPermission), errors.Is(err, errBadRequest):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, grants.ErrGrantNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "permission grant not found"})
	case errors.Is(err, errNotFound), errors.Is(err, buildings.ErrUnitNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, buildings.ErrNoCurrentTenancy):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, buildings.ErrUnitOccupied):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	default:
		logger.Error("request failed",
			"error", err,
			"storage", errors.Is(err, grants.ErrStorageUnavailable),
			"path", r.URL.Path,
			"requestId", middleware.GetReqID(r.Context()))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

var (
	errBadRequest = errors.New("bad request")
	errNotFound   = errors.New("not found")
)

type apiError struct {
	kind error
	msg  string
}

func (e *apiError) Error() string        { return e.msg }
func (e *apiError) Is(target error) bool { return target == e.kind }

func badRequest(msg string) error { return &apiError{kind: errBadRequest, msg: msg} }

func notFound(msg string) error { return &apiError{kind: errNotFound, msg: msg} }
