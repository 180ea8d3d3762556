package audit

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tenantunion/tenant-platform/pkg/permissions"
	"github.com/tenantunion/tenant-platform/pkg/scope"
)

// ListHandler handles GET /buildings/{buildingId}/permissions/audit.
// Query params: userId, permission, action, pageSize, pageToken.
func ListHandler(store *Store, logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		buildingID, err := buildingFromRequest(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		q := r.URL.Query()
		filter := Filter{
			BuildingID: buildingID,
			UserID:     q.Get("userId"),
			Permission: permissions.Permission(q.Get("permission")),
			Action:     Action(q.Get("action")),
		}
		if filter.Permission != "" && !permissions.Valid(filter.Permission) {
			writeError(w, http.StatusBadRequest, "unknown permission: "+string(filter.Permission))
			return
		}
		if filter.Action != "" && !filter.Action.Valid() {
			writeError(w, http.StatusBadRequest, "unknown action: "+string(filter.Action))
			return
		}

		pageSize := 20
		if ps := q.Get("pageSize"); ps != "" {
			if v, err := strconv.Atoi(ps); err == nil && v > 0 {
				pageSize = v
			}
		}

		entries, next, total, err := store.List(r.Context(), filter, pageSize, q.Get("pageToken"))
		if errors.Is(err, ErrInvalidPageToken) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err != nil {
			logger.Error("failed to list audit entries", "error", err, "buildingId", buildingID, "requestId", middleware.GetReqID(r.Context()))
			writeError(w, http.StatusInternalServerError, "failed to list audit entries")
			return
		}

		out := make([]EntryResponse, len(entries))
		for i, e := range entries {
			out[i] = ToResponse(e)
		}
		writeJSON(w, http.StatusOK, ListResponse{
			Entries:       out,
			NextPageToken: next,
			TotalSize:     total,
		})
	}
}

// GetHandler handles GET /buildings/{buildingId}/permissions/audit/{entryId}.
// Entries from other buildings are reported as not found.
func GetHandler(store *Store, logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		buildingID, err := buildingFromRequest(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		entryID := chi.URLParam(r, "entryId")
		if entryID == "" {
			writeError(w, http.StatusBadRequest, "missing entry id")
			return
		}

		entry, err := store.Get(r.Context(), entryID)
		if err != nil {
			logger.Error("failed to get audit entry", "error", err, "entryId", entryID, "requestId", middleware.GetReqID(r.Context()))
			writeError(w, http.StatusInternalServerError, "failed to get audit entry")
			return
		}
		if entry == nil || entry.BuildingID != buildingID {
			writeError(w, http.StatusNotFound, "audit entry not found")
			return
		}
		writeJSON(w, http.StatusOK, ToResponse(*entry))
	}
}

// ListResponse is the audit list payload.
type ListResponse struct {
	Entries       []EntryResponse `json:"entries"`
	NextPageToken string          `json:"nextPageToken,omitempty"`
	TotalSize     int             `json:"totalSize"`
}

// EntryResponse is the API shape of an audit entry.
type EntryResponse struct {
	ID          string `json:"id"`
	UserID      string `json:"userId"`
	BuildingID  string `json:"buildingId"`
	Permission  string `json:"permission"`
	Action      string `json:"action"`
	PerformedBy string `json:"performedBy"`
	Reason      string `json:"reason,omitempty"`
	CreatedAt   string `json:"createdAt"`
}

// ToResponse converts a stored entry to its API shape.
func ToResponse(e Entry) EntryResponse {
	return EntryResponse{
		ID:          e.ID,
		UserID:      e.UserID,
		BuildingID:  e.BuildingID,
		Permission:  string(e.Permission),
		Action:      string(e.Action),
		PerformedBy: e.PerformedBy,
		Reason:      e.Reason,
		CreatedAt:   e.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// buildingFromRequest prefers the building the guard stored, then the URL.
// A guarded request whose path names another building is rejected.
func buildingFromRequest(r *http.Request) (string, error) {
	path := chi.URLParam(r, "buildingId")
	id, ok := scope.BuildingFromContext(r.Context())
	switch {
	case ok && path != "" && path != id:
		return "", scope.ErrBuildingMismatch
	case ok:
		return id, nil
	case path != "":
		return path, nil
	}
	return "", scope.ErrBuildingContextRequired
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
