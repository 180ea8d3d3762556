package authz

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/tenantunion/tenant-platform/pkg/scope"
)

// GuardConfig configures a Guard.
type GuardConfig struct {
	Evaluator  Evaluator
	Resolver   scope.Resolver
	Superusers *Superusers
	Logger     *slog.Logger
}

// Guard builds middleware that authenticates the caller, resolves the
// building and checks a Requirement before the handler runs.
type Guard struct {
	evaluator  Evaluator
	resolver   scope.Resolver
	superusers *Superusers
	logger     *slog.Logger
}

// NewGuard creates a Guard.
func NewGuard(cfg GuardConfig) *Guard {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Guard{
		evaluator:  cfg.Evaluator,
		resolver:   cfg.Resolver,
		superusers: cfg.Superusers,
		logger:     cfg.Logger,
	}
}

// Authenticated rejects requests without an identity.
func (g *Guard) Authenticated() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := SubjectFromContext(r.Context()); !ok {
				writeDenial(w, http.StatusUnauthorized, denial{Error: "unauthenticated"})
				return
			}
			next.ServeHTTP(w, g.withMemo(r))
		})
	}
}

// InBuilding requires an identity and a resolvable building but no
// particular permission.
func (g *Guard) InBuilding() func(http.Handler) http.Handler {
	return g.guard(nil)
}

// Require enforces req for the resolved building.
func (g *Guard) Require(req Requirement) func(http.Handler) http.Handler {
	return g.guard(&req)
}

// Route enforces the requirement registered for name in table.
func (g *Guard) Route(table RouteTable, name string) func(http.Handler) http.Handler {
	return g.Require(table.Get(name))
}

// Superuser admits only callers on the superuser allowlist.
func (g *Guard) Superuser() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, ok := SubjectFromContext(r.Context())
			if !ok {
				writeDenial(w, http.StatusUnauthorized, denial{Error: "unauthenticated"})
				return
			}
			if !g.superusers.Contains(s.Email) {
				g.logger.Info("superuser access denied",
					"userId", s.UserID,
					"path", r.URL.Path,
					"requestId", middleware.GetReqID(r.Context()))
				writeDenial(w, http.StatusForbidden, denial{Error: "forbidden"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// guard runs the full check. Building resolution happens before any
// permission lookup so a missing building is never reported as a denial.
func (g *Guard) guard(req *Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, ok := SubjectFromContext(r.Context())
			if !ok {
				writeDenial(w, http.StatusUnauthorized, denial{Error: "unauthenticated"})
				return
			}
			reqID := middleware.GetReqID(r.Context())

			buildingID, err := g.resolveBuilding(r)
			if err != nil {
				switch {
				case errors.Is(err, scope.ErrBuildingContextRequired):
					writeDenial(w, http.StatusBadRequest, denial{Error: scope.ErrBuildingContextRequired.Error()})
				case errors.Is(err, scope.ErrInvalidBuildingID):
					writeDenial(w, http.StatusBadRequest, denial{Error: scope.ErrInvalidBuildingID.Error()})
				case errors.Is(err, scope.ErrResourceNotFound):
					g.denyMissing(w, r, s, req)
				default:
					g.logger.Error("building resolution failed",
						"error", err,
						"path", r.URL.Path,
						"requestId", reqID)
					writeDenial(w, http.StatusInternalServerError, denial{Error: "authorization check failed"})
				}
				return
			}

			r = g.withMemo(r)
			if req != nil {
				ev := EvaluatorFromContext(r.Context(), g.evaluator)
				allowed, err := req.Check(r.Context(), ev, s, buildingID)
				if err != nil {
					g.logger.Error("authorization check failed",
						"error", err,
						"userId", s.UserID,
						"buildingId", buildingID,
						"requestId", reqID)
					writeDenial(w, http.StatusInternalServerError, denial{Error: "authorization check failed"})
					return
				}
				if !allowed {
					g.logger.Info("permission denied",
						"userId", s.UserID,
						"buildingId", buildingID,
						"required", req.String(),
						"requestId", reqID)
					writeDenial(w, http.StatusForbidden, denial{Error: "forbidden", Required: req})
					return
				}
			}

			ctx := scope.WithBuilding(r.Context(), buildingID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// denyMissing answers a request for a nonexistent issue or unit exactly as
// it would answer one for a resource in a building the caller cannot act
// in. Superusers can act everywhere and get a plain 404.
func (g *Guard) denyMissing(w http.ResponseWriter, r *http.Request, s Subject, req *Requirement) {
	if g.superusers.Contains(s.Email) {
		writeDenial(w, http.StatusNotFound, denial{Error: "not found"})
		return
	}
	g.logger.Info("permission denied",
		"userId", s.UserID,
		"path", r.URL.Path,
		"reason", "unresolved resource",
		"requestId", middleware.GetReqID(r.Context()))
	writeDenial(w, http.StatusForbidden, denial{Error: "forbidden", Required: req})
}

func (g *Guard) resolveBuilding(r *http.Request) (string, error) {
	if g.resolver == nil {
		return "", scope.ErrBuildingContextRequired
	}
	id, err := g.resolver.Resolve(r)
	if errors.Is(err, scope.ErrNoBuilding) || (err == nil && id == "") {
		return "", scope.ErrBuildingContextRequired
	}
	return id, err
}

// withMemo attaches a request-scoped MemoEvaluator unless one is present.
func (g *Guard) withMemo(r *http.Request) *http.Request {
	if g.evaluator == nil {
		return r
	}
	if _, ok := r.Context().Value(evaluatorCtxKey{}).(Evaluator); ok {
		return r
	}
	return r.WithContext(WithEvaluator(r.Context(), NewMemoEvaluator(g.evaluator)))
}

// Authorize checks req and returns nil, a *ForbiddenError, or the
// evaluator's error.
func Authorize(ctx context.Context, ev Evaluator, s Subject, buildingID string, req Requirement) error {
	allowed, err := req.Check(ctx, ev, s, buildingID)
	if err != nil {
		return err
	}
	if !allowed {
		return &ForbiddenError{Required: req}
	}
	return nil
}

// denial is the body of every 4xx/5xx written by the guard.
type denial struct {
	Error    string       `json:"error"`
	Required *Requirement `json:"required,omitempty"`
}

func writeDenial(w http.ResponseWriter, status int, body denial) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
