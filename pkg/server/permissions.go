package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tenantunion/tenant-platform/pkg/authz"
	"github.com/tenantunion/tenant-platform/pkg/grants"
	"github.com/tenantunion/tenant-platform/pkg/permissions"
	"github.com/tenantunion/tenant-platform/pkg/scope"
)

type catalogResponse struct {
	Permissions []permissions.Definition           `json:"permissions"`
	Templates   map[string][]permissions.Permission `json:"templates"`
}

type myPermissionsResponse struct {
	BuildingID  string                   `json:"buildingId"`
	Permissions []permissions.Permission `json:"permissions"`
	Superuser   bool                     `json:"superuser"`
}

type grantListResponse struct {
	BuildingID string                   `json:"buildingId"`
	UserID     string                   `json:"userId,omitempty"`
	Grants     []grants.AdminPermission `json:"grants"`
}

type grantRequest struct {
	UserID     string     `json:"userId" validate:"required,max=64"`
	Permission string     `json:"permission" validate:"required_without=Template,excluded_with=Template,permission"`
	Template   string     `json:"template" validate:"template"`
	ExpiresAt  *time.Time `json:"expiresAt"`
	Reason     string     `json:"reason" validate:"max=500"`
}

// catalogHandler handles GET /api/v1/permissions.
func (s *Server) catalogHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, catalogResponse{
		Permissions: permissions.Definitions(),
		Templates:   permissions.Templates(),
	})
}

// myPermissionsHandler handles GET /api/v1/me/permissions.
func (s *Server) myPermissionsHandler(w http.ResponseWriter, r *http.Request) {
	subject, _ := authz.SubjectFromContext(r.Context())
	buildingID, _ := scope.BuildingFromContext(r.Context())

	ev := authz.EvaluatorFromContext(r.Context(), s.evaluator)
	set, err := ev.ListPermissions(r.Context(), subject, buildingID)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, myPermissionsResponse{
		BuildingID:  buildingID,
		Permissions: nonNil(permissions.Sorted(set)),
		Superuser:   s.superusers.Contains(subject.Email),
	})
}

// listBuildingGrantsHandler handles GET /api/v1/buildings/{buildingId}/permissions.
func (s *Server) listBuildingGrantsHandler(w http.ResponseWriter, r *http.Request) {
	buildingID, err := authorizedBuilding(r)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	rows, err := s.grants.ListForBuilding(r.Context(), buildingID)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, grantListResponse{BuildingID: buildingID, Grants: nonNil(rows)})
}

// listUserGrantsHandler handles GET /api/v1/buildings/{buildingId}/users/{userId}/permissions.
func (s *Server) listUserGrantsHandler(w http.ResponseWriter, r *http.Request) {
	buildingID, err := authorizedBuilding(r)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	userID := chi.URLParam(r, "userId")
	rows, err := s.grants.ListActive(r.Context(), userID, buildingID)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, grantListResponse{BuildingID: buildingID, UserID: userID, Grants: nonNil(rows)})
}

// grantHandler handles POST /api/v1/buildings/{buildingId}/permissions.
// The body names either a single permission or a template.
func (s *Server) grantHandler(w http.ResponseWriter, r *http.Request) {
	buildingID, err := authorizedBuilding(r)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	var req grantRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	actor, _ := authz.SubjectFromContext(r.Context())

	var rows []grants.AdminPermission
	if req.Template != "" {
		ps, _ := permissions.Template(req.Template)
		rows, err = s.grants.GrantMany(r.Context(), req.UserID, buildingID, ps, actor.UserID, req.ExpiresAt, req.Reason)
	} else {
		var row *grants.AdminPermission
		row, err = s.grants.Grant(r.Context(), grants.GrantRequest{
			UserID:     req.UserID,
			BuildingID: buildingID,
			Permission: permissions.Permission(req.Permission),
			GrantedBy:  actor.UserID,
			ExpiresAt:  req.ExpiresAt,
			Reason:     req.Reason,
		})
		if row != nil {
			rows = []grants.AdminPermission{*row}
		}
	}
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	s.logger.Info("permissions granted",
		"userId", req.UserID,
		"buildingId", buildingID,
		"grantedBy", actor.UserID,
		"count", len(rows))
	writeJSON(w, http.StatusCreated, grantListResponse{BuildingID: buildingID, UserID: req.UserID, Grants: nonNil(rows)})
}

// revokeHandler handles
// DELETE /api/v1/buildings/{buildingId}/users/{userId}/permissions/{permission}.
func (s *Server) revokeHandler(w http.ResponseWriter, r *http.Request) {
	buildingID, err := authorizedBuilding(r)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	p, err := permissions.Parse(chi.URLParam(r, "permission"))
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	actor, _ := authz.SubjectFromContext(r.Context())
	userID := chi.URLParam(r, "userId")

	err = s.grants.Revoke(r.Context(), grants.RevokeRequest{
		UserID:     userID,
		BuildingID: buildingID,
		Permission: p,
		RevokedBy:  actor.UserID,
		Reason:     r.URL.Query().Get("reason"),
	})
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	s.logger.Info("permission revoked",
		"userId", userID,
		"buildingId", buildingID,
		"permission", p,
		"revokedBy", actor.UserID)
	w.WriteHeader(http.StatusNoContent)
}

// authorizedBuilding returns the building the guard authorized, rejecting
// requests whose path names a different one.
func authorizedBuilding(r *http.Request) (string, error) {
	buildingID, ok := scope.BuildingFromContext(r.Context())
	if !ok {
		return "", scope.ErrBuildingContextRequired
	}
	if p := chi.URLParam(r, "buildingId"); p != "" && p != buildingID {
		return "", scope.ErrBuildingMismatch
	}
	return buildingID, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
