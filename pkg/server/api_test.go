package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/glebarez/sqlite"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tenantunion/tenant-platform/pkg/audit"
	"github.com/tenantunion/tenant-platform/pkg/authz"
	"github.com/tenantunion/tenant-platform/pkg/buildings"
	"github.com/tenantunion/tenant-platform/pkg/cache"
	"github.com/tenantunion/tenant-platform/pkg/grants"
)

type caller struct {
	userID string
	email  string
}

var (
	root    = caller{"u-root", "root@example.org"}
	manager = caller{"u-manager", "manager@example.org"}
	tenant  = caller{"u-tenant", "tenant@example.org"}
	nobody  = caller{}
)

type apiFixture struct {
	handler    http.Handler
	db         *gorm.DB
	buildings  *buildings.Store
	building   *buildings.Building
	other      *buildings.Building
	units      []buildings.Unit
	issue      *buildings.Issue
	superusers []string
}

func newAPIFixture() *apiFixture {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	Expect(err).NotTo(HaveOccurred())
	sqlDB, err := db.DB()
	Expect(err).NotTo(HaveOccurred())
	sqlDB.SetMaxOpenConns(1)

	f := &apiFixture{db: db, superusers: []string{root.email}}

	gs := grants.NewStore(db)
	as := audit.NewStore(db, 0)
	bs := buildings.NewStore(db, 0)
	Expect(gs.AutoMigrate()).To(Succeed())
	Expect(bs.AutoMigrate()).To(Succeed())
	f.buildings = bs

	su, err := authz.NewSuperusersFromSource(func() ([]string, error) {
		return f.superusers, nil
	})
	Expect(err).NotTo(HaveOccurred())

	ctx := context.Background()
	f.building = &buildings.Building{Name: "Maple Court", Floors: 2, UnitsPerFloor: 2}
	f.units, err = bs.CreateBuilding(ctx, f.building, true)
	Expect(err).NotTo(HaveOccurred())
	f.other = &buildings.Building{Name: "Birch House", Floors: 1, UnitsPerFloor: 1}
	_, err = bs.CreateBuilding(ctx, f.other, true)
	Expect(err).NotTo(HaveOccurred())
	f.issue = &buildings.Issue{BuildingID: f.building.ID, Title: "Broken intercom"}
	Expect(bs.CreateIssue(ctx, f.issue)).To(Succeed())

	srv := New(db, gs, as, bs, su,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithLookupCache(cache.NewLRUCache[string, string](64, time.Minute)),
	)
	f.handler = srv.Handler()
	return f
}

func (f *apiFixture) do(method, path string, who caller, body any) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if who.userID != "" {
		req.Header.Set(authz.HeaderRemoteUser, who.userID)
		req.Header.Set(authz.HeaderRemoteEmail, who.email)
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func decode(rr *httptest.ResponseRecorder) map[string]any {
	var out map[string]any
	Expect(json.Unmarshal(rr.Body.Bytes(), &out)).To(Succeed(), rr.Body.String())
	return out
}

func (f *apiFixture) grantsPath() string {
	return "/api/v1/buildings/" + f.building.ID + "/permissions"
}

var _ = Describe("Permission API", func() {
	var f *apiFixture

	BeforeEach(func() {
		f = newAPIFixture()
	})

	It("requires an identity", func() {
		rr := f.do(http.MethodGet, "/api/v1/permissions", nobody, nil)
		Expect(rr.Code).To(Equal(http.StatusUnauthorized))
		Expect(decode(rr)["error"]).To(Equal("unauthenticated"))
	})

	It("serves the permission catalog and templates", func() {
		rr := f.do(http.MethodGet, "/api/v1/permissions", tenant, nil)
		Expect(rr.Code).To(Equal(http.StatusOK))
		body := decode(rr)
		Expect(body["permissions"]).To(HaveLen(13))
		Expect(body["templates"]).To(HaveKey("issue_manager"))
	})

	It("grants and revokes a permission end to end", func() {
		issuePath := "/api/v1/issues/" + f.issue.ID

		By("denying before the grant")
		rr := f.do(http.MethodGet, issuePath, manager, nil)
		Expect(rr.Code).To(Equal(http.StatusForbidden))
		Expect(decode(rr)["required"]).To(Equal([]any{"view_all_issues", "manage_issues"}))

		By("granting as a superuser")
		rr = f.do(http.MethodPost, f.grantsPath(), root, map[string]any{
			"userId": manager.userID, "permission": "manage_issues", "reason": "committee vote",
		})
		Expect(rr.Code).To(Equal(http.StatusCreated), rr.Body.String())

		By("allowing the issue lookup")
		rr = f.do(http.MethodGet, issuePath, manager, nil)
		Expect(rr.Code).To(Equal(http.StatusOK))
		Expect(decode(rr)["title"]).To(Equal("Broken intercom"))

		By("revoking")
		rr = f.do(http.MethodDelete, "/api/v1/buildings/"+f.building.ID+"/users/"+manager.userID+"/permissions/manage_issues?reason=term+ended", root, nil)
		Expect(rr.Code).To(Equal(http.StatusNoContent))

		rr = f.do(http.MethodGet, issuePath, manager, nil)
		Expect(rr.Code).To(Equal(http.StatusForbidden))

		By("reporting a second revoke as not found")
		rr = f.do(http.MethodDelete, "/api/v1/buildings/"+f.building.ID+"/users/"+manager.userID+"/permissions/manage_issues", root, nil)
		Expect(rr.Code).To(Equal(http.StatusNotFound))

		By("recording exactly two audit entries, newest first")
		rr = f.do(http.MethodGet, f.grantsPath()+"/audit?userId="+manager.userID, root, nil)
		Expect(rr.Code).To(Equal(http.StatusOK))
		entries := decode(rr)["entries"].([]any)
		Expect(entries).To(HaveLen(2))
		Expect(entries[0].(map[string]any)["action"]).To(Equal("revoked"))
		Expect(entries[0].(map[string]any)["reason"]).To(Equal("term ended"))
		Expect(entries[1].(map[string]any)["action"]).To(Equal("granted"))
		Expect(entries[1].(map[string]any)["performedBy"]).To(Equal(root.userID))
	})

	It("treats an already expired grant as inactive", func() {
		past := time.Now().Add(-time.Hour).UTC()
		rr := f.do(http.MethodPost, f.grantsPath(), root, map[string]any{
			"userId": manager.userID, "permission": "manage_issues", "expiresAt": past,
		})
		Expect(rr.Code).To(Equal(http.StatusCreated))

		rr = f.do(http.MethodGet, "/api/v1/buildings/"+f.building.ID+"/users/"+manager.userID+"/permissions", root, nil)
		Expect(rr.Code).To(Equal(http.StatusOK))
		Expect(decode(rr)["grants"]).To(BeEmpty())

		rr = f.do(http.MethodGet, "/api/v1/me/permissions?buildingId="+f.building.ID, manager, nil)
		Expect(rr.Code).To(Equal(http.StatusOK))
		Expect(decode(rr)["permissions"]).To(BeEmpty())
	})

	It("grants a template in one request", func() {
		rr := f.do(http.MethodPost, f.grantsPath(), root, map[string]any{
			"userId": manager.userID, "template": "issue_manager",
		})
		Expect(rr.Code).To(Equal(http.StatusCreated))
		Expect(decode(rr)["grants"]).To(HaveLen(2))

		rr = f.do(http.MethodGet, f.grantsPath(), root, nil)
		Expect(rr.Code).To(Equal(http.StatusOK))
		Expect(decode(rr)["grants"]).To(HaveLen(2))
	})

	DescribeTable("rejects invalid grant bodies",
		func(body map[string]any, want string) {
			rr := f.do(http.MethodPost, f.grantsPath(), root, body)
			Expect(rr.Code).To(Equal(http.StatusBadRequest))
			Expect(decode(rr)["error"]).To(ContainSubstring(want))
		},
		Entry("missing user", map[string]any{"permission": "manage_issues"}, "userId is required"),
		Entry("missing permission", map[string]any{"userId": "u1"}, "permission is required"),
		Entry("both permission and template", map[string]any{"userId": "u1", "permission": "manage_issues", "template": "issue_manager"}, "cannot be combined"),
		Entry("unknown permission", map[string]any{"userId": "u1", "permission": "fly"}, "not a known permission"),
		Entry("unknown template", map[string]any{"userId": "u1", "template": "emperor"}, "not a known template"),
		Entry("unknown field", map[string]any{"userId": "u1", "permission": "manage_issues", "building": "x"}, "invalid request body"),
	)

	It("rejects an unknown permission on revoke", func() {
		rr := f.do(http.MethodDelete, "/api/v1/buildings/"+f.building.ID+"/users/u1/permissions/fly", root, nil)
		Expect(rr.Code).To(Equal(http.StatusBadRequest))
	})

	It("keeps grants scoped to their building", func() {
		rr := f.do(http.MethodPost, f.grantsPath(), root, map[string]any{
			"userId": manager.userID, "permission": "manage_permissions",
		})
		Expect(rr.Code).To(Equal(http.StatusCreated))

		rr = f.do(http.MethodGet, f.grantsPath(), manager, nil)
		Expect(rr.Code).To(Equal(http.StatusOK))

		rr = f.do(http.MethodGet, "/api/v1/buildings/"+f.other.ID+"/permissions", manager, nil)
		Expect(rr.Code).To(Equal(http.StatusForbidden))
		Expect(decode(rr)["required"]).To(Equal("manage_permissions"))
	})

	It("rejects a query building that disagrees with the path", func() {
		rr := f.do(http.MethodGet, f.grantsPath()+"?buildingId="+f.other.ID, root, nil)
		Expect(rr.Code).To(Equal(http.StatusBadRequest))

		rr = f.do(http.MethodGet, f.grantsPath()+"/audit?buildingId="+f.other.ID, root, nil)
		Expect(rr.Code).To(Equal(http.StatusBadRequest))
		Expect(decode(rr)["error"]).To(ContainSubstring("does not match"))
	})
})

var _ = Describe("Building context", func() {
	var f *apiFixture

	BeforeEach(func() {
		f = newAPIFixture()
	})

	It("answers 400 when no building can be resolved", func() {
		rr := f.do(http.MethodGet, "/api/v1/me/permissions", tenant, nil)
		Expect(rr.Code).To(Equal(http.StatusBadRequest))
		Expect(decode(rr)["error"]).To(Equal("building context required"))
	})

	It("falls back to the caller's membership", func() {
		_, err := f.buildings.AssignRole(context.Background(), tenant.userID, f.building.ID, buildings.RoleTenant)
		Expect(err).NotTo(HaveOccurred())

		rr := f.do(http.MethodGet, "/api/v1/me/permissions", tenant, nil)
		Expect(rr.Code).To(Equal(http.StatusOK))
		body := decode(rr)
		Expect(body["buildingId"]).To(Equal(f.building.ID))
		Expect(body["superuser"]).To(BeFalse())
	})

	It("rejects malformed building ids", func() {
		rr := f.do(http.MethodGet, "/api/v1/me/permissions?buildingId=not%20valid", tenant, nil)
		Expect(rr.Code).To(Equal(http.StatusBadRequest))
		Expect(decode(rr)["error"]).To(Equal("invalid building id"))
	})

	It("reports the full catalog for superusers", func() {
		rr := f.do(http.MethodGet, "/api/v1/me/permissions?buildingId="+f.building.ID, root, nil)
		Expect(rr.Code).To(Equal(http.StatusOK))
		body := decode(rr)
		Expect(body["permissions"]).To(HaveLen(13))
		Expect(body["superuser"]).To(BeTrue())
	})

	It("answers a missing issue exactly like a foreign one", func() {
		_, err := f.buildings.AssignRole(context.Background(), tenant.userID, f.other.ID, buildings.RoleTenant)
		Expect(err).NotTo(HaveOccurred())
		rr := f.do(http.MethodPost, "/api/v1/buildings/"+f.other.ID+"/permissions", root, map[string]any{
			"userId": tenant.userID, "permission": "view_all_issues",
		})
		Expect(rr.Code).To(Equal(http.StatusCreated))

		missing := f.do(http.MethodGet, "/api/v1/issues/does-not-exist", tenant, nil)
		foreign := f.do(http.MethodGet, "/api/v1/issues/"+f.issue.ID, tenant, nil)

		Expect(missing.Code).To(Equal(http.StatusForbidden))
		Expect(foreign.Code).To(Equal(missing.Code))
		Expect(foreign.Body.String()).To(Equal(missing.Body.String()))
	})

	It("answers a missing unit exactly like a foreign one", func() {
		rr := f.do(http.MethodPost, "/api/v1/buildings/"+f.other.ID+"/permissions", root, map[string]any{
			"userId": manager.userID, "permission": "manage_tenants",
		})
		Expect(rr.Code).To(Equal(http.StatusCreated))

		body := map[string]any{"userId": "u-1", "buildingId": f.other.ID}
		missing := f.do(http.MethodPost, "/api/v1/units/does-not-exist/tenancy", manager, body)
		foreign := f.do(http.MethodPost, "/api/v1/units/"+f.units[0].ID+"/tenancy", manager, body)

		Expect(missing.Code).To(Equal(http.StatusForbidden))
		Expect(foreign.Code).To(Equal(missing.Code))
		Expect(foreign.Body.String()).To(Equal(missing.Body.String()))
	})

	It("answers 404 to superusers for a missing issue", func() {
		rr := f.do(http.MethodGet, "/api/v1/issues/missing", root, nil)
		Expect(rr.Code).To(Equal(http.StatusNotFound))

		rr = f.do(http.MethodGet, "/api/v1/issues/missing?buildingId="+f.building.ID, root, nil)
		Expect(rr.Code).To(Equal(http.StatusNotFound))
	})
})

var _ = Describe("Occupancy API", func() {
	var (
		f    *apiFixture
		path string
	)

	BeforeEach(func() {
		f = newAPIFixture()
		path = "/api/v1/units/" + f.units[0].ID + "/tenancy"
	})

	It("assigns, transfers and vacates a unit", func() {
		rr := f.do(http.MethodPost, path, root, map[string]any{"userId": "u-1"})
		Expect(rr.Code).To(Equal(http.StatusCreated), rr.Body.String())
		Expect(decode(rr)["isCurrent"]).To(BeTrue())

		rr = f.do(http.MethodPost, path, root, map[string]any{"userId": "u-2"})
		Expect(rr.Code).To(Equal(http.StatusConflict))

		rr = f.do(http.MethodPost, path, root, map[string]any{"userId": "u-2", "transfer": true})
		Expect(rr.Code).To(Equal(http.StatusCreated))
		Expect(decode(rr)["userId"]).To(Equal("u-2"))

		rr = f.do(http.MethodDelete, path+"?at=2026-12-31T00:00:00Z", root, nil)
		Expect(rr.Code).To(Equal(http.StatusOK))
		Expect(decode(rr)["endDate"]).To(Equal("2026-12-31T00:00:00Z"))

		rr = f.do(http.MethodDelete, path, root, nil)
		Expect(rr.Code).To(Equal(http.StatusNotFound))
	})

	It("requires manage_tenants in the unit's building", func() {
		rr := f.do(http.MethodPost, path, manager, map[string]any{"userId": "u-1"})
		Expect(rr.Code).To(Equal(http.StatusForbidden))
		Expect(decode(rr)["required"]).To(Equal("manage_tenants"))

		rr = f.do(http.MethodPost, f.grantsPath(), root, map[string]any{
			"userId": manager.userID, "template": "tenant_manager",
		})
		Expect(rr.Code).To(Equal(http.StatusCreated))

		rr = f.do(http.MethodPost, path, manager, map[string]any{"userId": "u-1"})
		Expect(rr.Code).To(Equal(http.StatusCreated))
	})

	It("rejects a bad vacate timestamp", func() {
		rr := f.do(http.MethodDelete, path+"?at=yesterday", root, nil)
		Expect(rr.Code).To(Equal(http.StatusBadRequest))
	})
})

var _ = Describe("Superuser reload", func() {
	var f *apiFixture

	BeforeEach(func() {
		f = newAPIFixture()
	})

	It("is restricted to superusers", func() {
		rr := f.do(http.MethodPost, "/api/v1/admin/superusers:reload", manager, nil)
		Expect(rr.Code).To(Equal(http.StatusForbidden))
	})

	It("applies the new allowlist to later requests", func() {
		rr := f.do(http.MethodGet, f.grantsPath(), manager, nil)
		Expect(rr.Code).To(Equal(http.StatusForbidden))

		f.superusers = []string{root.email, manager.email}
		rr = f.do(http.MethodPost, "/api/v1/admin/superusers:reload", root, nil)
		Expect(rr.Code).To(Equal(http.StatusOK))
		Expect(decode(rr)["superusers"]).To(BeNumerically("==", 2))

		rr = f.do(http.MethodGet, f.grantsPath(), manager, nil)
		Expect(rr.Code).To(Equal(http.StatusOK))
	})
})

var _ = Describe("Health", func() {
	It("reports liveness and readiness", func() {
		f := newAPIFixture()
		Expect(f.do(http.MethodGet, "/healthz", nobody, nil).Code).To(Equal(http.StatusOK))
		Expect(f.do(http.MethodGet, "/livez", nobody, nil).Code).To(Equal(http.StatusOK))

		rr := f.do(http.MethodGet, "/readyz", nobody, nil)
		Expect(rr.Code).To(Equal(http.StatusOK))
		Expect(decode(rr)["status"]).To(Equal("ready"))
	})
})
