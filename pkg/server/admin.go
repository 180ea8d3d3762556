package server

import (
	"errors"
	"net/http"

	"github.com/tenantunion/tenant-platform/pkg/authz"
)

// reloadSuperusersHandler handles POST /api/v1/admin/superusers:reload.
func (s *Server) reloadSuperusersHandler(w http.ResponseWriter, r *http.Request) {
	err := s.superusers.Refresh()
	if errors.Is(err, authz.ErrNoSuperuserSource) {
		writeJSON(w, http.StatusConflict, errorBody{Error: "superuser list is static and cannot be reloaded"})
		return
	}
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	count := len(s.superusers.Emails())
	s.logger.Info("superuser allowlist reloaded", "count", count)
	writeJSON(w, http.StatusOK, map[string]int{"superusers": count})
}
