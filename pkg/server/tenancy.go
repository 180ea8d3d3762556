package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tenantunion/tenant-platform/pkg/buildings"
)

type assignTenancyRequest struct {
	UserID string `json:"userId" validate:"required,max=64"`
	// Transfer ends the current tenancy instead of failing on an occupied unit.
	Transfer  bool       `json:"transfer"`
	StartDate *time.Time `json:"startDate"`
}

// getIssueHandler handles GET /api/v1/issues/{issueId}.
func (s *Server) getIssueHandler(w http.ResponseWriter, r *http.Request) {
	buildingID, err := authorizedBuilding(r)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	issue, err := s.buildings.GetIssue(r.Context(), chi.URLParam(r, "issueId"))
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	if issue == nil || issue.BuildingID != buildingID {
		writeError(w, r, s.logger, notFound("issue not found"))
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

// assignTenancyHandler handles POST /api/v1/units/{unitId}/tenancy.
func (s *Server) assignTenancyHandler(w http.ResponseWriter, r *http.Request) {
	unitID, err := s.unitInBuilding(r)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	var req assignTenancyRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	at := s.now()
	if req.StartDate != nil {
		at = *req.StartDate
	}

	var t *buildings.Tenancy
	if req.Transfer {
		t, err = s.buildings.Transfer(r.Context(), unitID, req.UserID, at)
	} else {
		t, err = s.buildings.Assign(r.Context(), unitID, req.UserID, at)
	}
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	s.logger.Info("tenancy started", "unitId", unitID, "userId", req.UserID, "transfer", req.Transfer)
	writeJSON(w, http.StatusCreated, t)
}

// vacateTenancyHandler handles DELETE /api/v1/units/{unitId}/tenancy.
// An optional ?at= RFC 3339 timestamp sets the end date.
func (s *Server) vacateTenancyHandler(w http.ResponseWriter, r *http.Request) {
	unitID, err := s.unitInBuilding(r)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	at := s.now()
	if v := r.URL.Query().Get("at"); v != "" {
		at, err = time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, r, s.logger, badRequest("at must be an RFC 3339 timestamp"))
			return
		}
	}

	t, err := s.buildings.Vacate(r.Context(), unitID, at)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	s.logger.Info("tenancy ended", "unitId", unitID, "userId", t.UserID)
	writeJSON(w, http.StatusOK, t)
}

// unitInBuilding returns the unit id from the path after checking that the
// unit belongs to the authorized building.
func (s *Server) unitInBuilding(r *http.Request) (string, error) {
	buildingID, err := authorizedBuilding(r)
	if err != nil {
		return "", err
	}
	unitID := chi.URLParam(r, "unitId")
	owner, err := s.buildings.UnitBuilding(r.Context(), unitID)
	if err != nil {
		return "", err
	}
	if owner == "" || owner != buildingID {
		return "", buildings.ErrUnitNotFound
	}
	return unitID, nil
}
