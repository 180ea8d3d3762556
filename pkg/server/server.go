// Package server exposes the permission, audit and occupancy APIs over HTTP.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"

	"github.com/tenantunion/tenant-platform/pkg/audit"
	"github.com/tenantunion/tenant-platform/pkg/authz"
	"github.com/tenantunion/tenant-platform/pkg/buildings"
	"github.com/tenantunion/tenant-platform/pkg/cache"
	"github.com/tenantunion/tenant-platform/pkg/grants"
	"github.com/tenantunion/tenant-platform/pkg/scope"
)

// Server wires stores, the request guard and the HTTP router.
type Server struct {
	db          *gorm.DB
	grants      *grants.Store
	audit       *audit.Store
	buildings   *buildings.Store
	superusers  *authz.Superusers
	evaluator   authz.Evaluator
	guard       *authz.Guard
	routes      authz.RouteTable
	identity    func(http.Handler) http.Handler
	lookupCache *cache.LRUCache[string, string]
	corsOrigins []string
	validate    *validator.Validate
	logger      *slog.Logger
	now         func() time.Time
	startedAt   time.Time
	router      chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithRouteTable overrides the default route requirements.
func WithRouteTable(t authz.RouteTable) Option {
	return func(s *Server) {
		s.routes = t
	}
}

// WithIdentity sets the middleware that establishes the caller's identity.
// Without it, identity is taken from trusted proxy headers.
func WithIdentity(mw func(http.Handler) http.Handler) Option {
	return func(s *Server) {
		s.identity = mw
	}
}

// WithLookupCache caches issue and unit to building lookups.
func WithLookupCache(c *cache.LRUCache[string, string]) Option {
	return func(s *Server) {
		s.lookupCache = c
	}
}

// WithCORSOrigins sets the allowed CORS origins.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) {
		s.corsOrigins = origins
	}
}

// WithClock sets the clock used for default tenancy dates.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// New creates a Server. Routes are built by Handler.
func New(db *gorm.DB, gs *grants.Store, as *audit.Store, bs *buildings.Store, superusers *authz.Superusers, opts ...Option) *Server {
	s := &Server{
		db:         db,
		grants:     gs,
		audit:      as,
		buildings:  bs,
		superusers: superusers,
		routes:     authz.DefaultRoutes(),
		validate:   newValidator(),
		logger:     slog.Default(),
		now:        time.Now,
		startedAt:  time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.identity == nil {
		s.identity, _ = authz.IdentityMiddleware(authz.IdentityConfig{Mode: authz.IdentityModeTrustedProxy})
	}

	s.evaluator = authz.NewStoreEvaluator(gs, superusers)
	s.guard = authz.NewGuard(authz.GuardConfig{
		Evaluator: s.evaluator,
		Resolver: scope.NewChain(
			scope.QueryResolver{},
			scope.NewPathResolver(bs, s.lookupCache),
			scope.BodyResolver{},
			scope.MembershipResolver{Lookup: bs, UserID: authz.UserIDFromRequest},
		),
		Superusers: superusers,
		Logger:     s.logger,
	})
	return s
}

// Handler builds the router on first use and returns it.
func (s *Server) Handler() http.Handler {
	if s.router == nil {
		s.router = s.mountRoutes()
	}
	return s.router
}

func (s *Server) mountRoutes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.identity)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	origins := s.corsOrigins
	if len(origins) == 0 {
		origins = []string{"https://*", "http://*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: len(s.corsOrigins) > 0,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.healthHandler)
	r.Get("/livez", s.healthHandler)
	r.Get("/readyz", s.readyHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.With(s.guard.Authenticated()).Get("/permissions", s.catalogHandler)
		r.With(s.guard.InBuilding()).Get("/me/permissions", s.myPermissionsHandler)

		r.Route("/buildings/{buildingId}", func(r chi.Router) {
			r.With(s.guard.Route(s.routes, authz.RouteListBuildingGrants)).
				Get("/permissions", s.listBuildingGrantsHandler)
			r.With(s.guard.Route(s.routes, authz.RouteGrant)).
				Post("/permissions", s.grantHandler)
			r.With(s.guard.Route(s.routes, authz.RouteListUserGrants)).
				Get("/users/{userId}/permissions", s.listUserGrantsHandler)
			r.With(s.guard.Route(s.routes, authz.RouteRevoke)).
				Delete("/users/{userId}/permissions/{permission}", s.revokeHandler)
			r.Mount("/permissions/audit", audit.Router(s.audit, s.guard.Route(s.routes, authz.RouteAuditList), s.logger))
		})

		r.With(s.guard.Route(s.routes, authz.RouteIssueGet)).
			Get("/issues/{issueId}", s.getIssueHandler)

		r.With(s.guard.Route(s.routes, authz.RouteTenancyAssign)).
			Post("/units/{unitId}/tenancy", s.assignTenancyHandler)
		r.With(s.guard.Route(s.routes, authz.RouteTenancyVacate)).
			Delete("/units/{unitId}/tenancy", s.vacateTenancyHandler)

		r.With(s.guard.Superuser()).Post("/admin/superusers:reload", s.reloadSuperusersHandler)
	})

	return r
}

// healthHandler reports liveness.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "alive",
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// readyHandler reports whether the database is reachable.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	dbStatus := map[string]string{"status": "up"}
	status := http.StatusOK

	if s.db == nil {
		dbStatus["status"] = "not_configured"
		status = http.StatusServiceUnavailable
	} else if err := ping(r.Context(), s.db); err != nil {
		dbStatus["status"] = "down"
		dbStatus["error"] = err.Error()
		status = http.StatusServiceUnavailable
	}

	ready := "ready"
	if status != http.StatusOK {
		ready = "not_ready"
	}
	writeJSON(w, status, map[string]any{
		"status":   ready,
		"database": dbStatus,
	})
}

func ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}
