package audit

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Router creates the audit sub-router, mounted under
// /buildings/{buildingId}/permissions/audit. guard, when non-nil, wraps
// every route.
func Router(store *Store, guard func(http.Handler) http.Handler, logger *slog.Logger) chi.Router {
	r := chi.NewRouter()
	if guard != nil {
		r.Use(guard)
	}
	r.Get("/", ListHandler(store, logger))
	r.Get("/{entryId}", GetHandler(store, logger))
	return r
}
