package grants

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tenantunion/tenant-platform/pkg/audit"
	"github.com/tenantunion/tenant-platform/pkg/permissions"
)

const (
	userU     = "user-u"
	buildingB = "building-b"
	adminA    = "admin-a"
)

// newTestDB creates an in-memory SQLite DB with grant and audit tables migrated.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	// Each new connection to :memory: is a separate database.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, NewStore(db).AutoMigrate())
	return db
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore(t *testing.T) (*Store, *fakeClock, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewStore(db, WithClock(clock.Now)), clock, db
}

func auditRows(t *testing.T, db *gorm.DB, userID, buildingID string) []audit.Entry {
	t.Helper()
	entries, err := audit.NewStore(db, 0).ForTuple(context.Background(), userID, buildingID)
	require.NoError(t, err)
	return entries
}

func countGrants(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&AdminPermission{}).Count(&n).Error)
	return n
}

func TestStore_GrantThenRevoke(t *testing.T) {
	store, _, db := newTestStore(t)
	ctx := context.Background()

	granted, err := store.Grant(ctx, GrantRequest{
		UserID:     userU,
		BuildingID: buildingB,
		Permission: permissions.ManageIssues,
		GrantedBy:  adminA,
	})
	require.NoError(t, err)
	assert.Equal(t, permissions.ManageIssues, granted.Permission)
	assert.Nil(t, granted.ExpiresAt)
	assert.NotEmpty(t, granted.ID)

	ok, err := store.HasActive(ctx, userU, buildingB, permissions.ManageIssues)
	require.NoError(t, err)
	assert.True(t, ok)

	err = store.Revoke(ctx, RevokeRequest{
		UserID:     userU,
		BuildingID: buildingB,
		Permission: permissions.ManageIssues,
		RevokedBy:  adminA,
		Reason:     "stepped down",
	})
	require.NoError(t, err)

	ok, err = store.HasActive(ctx, userU, buildingB, permissions.ManageIssues)
	require.NoError(t, err)
	assert.False(t, ok)

	entries := auditRows(t, db, userU, buildingB)
	require.Len(t, entries, 2)
	assert.Equal(t, audit.ActionGranted, entries[0].Action)
	assert.Equal(t, audit.ActionRevoked, entries[1].Action)
	assert.Equal(t, "stepped down", entries[1].Reason)
	assert.Equal(t, adminA, entries[1].PerformedBy)
}

func TestStore_AlreadyExpiredGrantIsInactive(t *testing.T) {
	store, clock, _ := newTestStore(t)
	ctx := context.Background()

	past := clock.Now().Add(-time.Hour)
	_, err := store.Grant(ctx, GrantRequest{
		UserID:     userU,
		BuildingID: buildingB,
		Permission: permissions.ViewAllTenants,
		GrantedBy:  adminA,
		ExpiresAt:  &past,
	})
	require.NoError(t, err)

	ok, err := store.HasActive(ctx, userU, buildingB, permissions.ViewAllTenants)
	require.NoError(t, err)
	assert.False(t, ok)

	rows, err := store.ListActive(ctx, userU, buildingB)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestStore_GrantExpiresWithClock(t *testing.T) {
	store, clock, _ := newTestStore(t)
	ctx := context.Background()

	until := clock.Now().Add(2 * time.Hour)
	_, err := store.Grant(ctx, GrantRequest{
		UserID:     userU,
		BuildingID: buildingB,
		Permission: permissions.ManageUnits,
		GrantedBy:  adminA,
		ExpiresAt:  &until,
	})
	require.NoError(t, err)

	rows, err := store.ListActive(ctx, userU, buildingB)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].ActiveAt(clock.Now()))

	clock.Advance(3 * time.Hour)

	ok, err := store.HasActive(ctx, userU, buildingB, permissions.ManageUnits)
	require.NoError(t, err)
	assert.False(t, ok)

	rows, err = store.ListActive(ctx, userU, buildingB)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestStore_DuplicateGrantIsIdempotent(t *testing.T) {
	store, clock, db := newTestStore(t)
	ctx := context.Background()

	first, err := store.Grant(ctx, GrantRequest{
		UserID:     userU,
		BuildingID: buildingB,
		Permission: permissions.ManageTenants,
		GrantedBy:  adminA,
	})
	require.NoError(t, err)

	until := clock.Now().Add(48 * time.Hour)
	second, err := store.Grant(ctx, GrantRequest{
		UserID:     userU,
		BuildingID: buildingB,
		Permission: permissions.ManageTenants,
		GrantedBy:  "admin-b",
		ExpiresAt:  &until,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), countGrants(t, db))
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "admin-b", second.GrantedBy)
	require.NotNil(t, second.ExpiresAt)
	assert.True(t, second.ExpiresAt.Equal(until))

	entries := auditRows(t, db, userU, buildingB)
	require.Len(t, entries, 2)
	assert.Equal(t, audit.ActionGranted, entries[0].Action)
	assert.Equal(t, audit.ActionGranted, entries[1].Action)
}

func TestStore_RevokeNeverGranted(t *testing.T) {
	store, _, db := newTestStore(t)

	err := store.Revoke(context.Background(), RevokeRequest{
		UserID:     userU,
		BuildingID: buildingB,
		Permission: permissions.ExportData,
		RevokedBy:  adminA,
	})
	assert.ErrorIs(t, err, ErrGrantNotFound)
	assert.NotErrorIs(t, err, ErrStorageUnavailable)
	assert.Empty(t, auditRows(t, db, userU, buildingB))
}

func TestStore_GrantMany(t *testing.T) {
	store, _, db := newTestStore(t)
	ctx := context.Background()

	ps, ok := permissions.Template(permissions.TemplateIssueManager)
	require.True(t, ok)
	ps = append(ps, permissions.ManageIssues)

	rows, err := store.GrantMany(ctx, userU, buildingB, ps, adminA, nil, "template")
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	// Re-applying the template is idempotent.
	_, err = store.GrantMany(ctx, userU, buildingB, ps, adminA, nil, "template")
	require.NoError(t, err)
	assert.Equal(t, int64(2), countGrants(t, db))

	set, err := store.ActivePermissions(ctx, userU, buildingB)
	require.NoError(t, err)
	assert.True(t, set.Contains(permissions.ViewAllIssues, permissions.ManageIssues))
	assert.Len(t, auditRows(t, db, userU, buildingB), 4)
}

func TestStore_GrantManyRejectsUnknownAtomically(t *testing.T) {
	store, _, db := newTestStore(t)

	_, err := store.GrantMany(context.Background(), userU, buildingB,
		[]permissions.Permission{permissions.ManageIssues, "launch_missiles"}, adminA, nil, "")
	assert.ErrorIs(t, err, permissions.ErrUnknownPermission)
	assert.Equal(t, int64(0), countGrants(t, db))
	assert.Empty(t, auditRows(t, db, userU, buildingB))
}

func TestStore_GrantValidation(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  GrantRequest
	}{
		{"missing user", GrantRequest{BuildingID: buildingB, Permission: permissions.ManageIssues, GrantedBy: adminA}},
		{"missing building", GrantRequest{UserID: userU, Permission: permissions.ManageIssues, GrantedBy: adminA}},
		{"unknown permission", GrantRequest{UserID: userU, BuildingID: buildingB, Permission: "nope", GrantedBy: adminA}},
		{"missing granter", GrantRequest{UserID: userU, BuildingID: buildingB, Permission: permissions.ManageIssues}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Grant(ctx, tt.req)
			require.Error(t, err)
			assert.NotErrorIs(t, err, ErrStorageUnavailable)
		})
	}
}

func TestStore_ListForBuilding(t *testing.T) {
	store, clock, _ := newTestStore(t)
	ctx := context.Background()

	past := clock.Now().Add(-time.Minute)
	for _, req := range []GrantRequest{
		{UserID: "user-b", BuildingID: buildingB, Permission: permissions.ManageIssues, GrantedBy: adminA},
		{UserID: "user-a", BuildingID: buildingB, Permission: permissions.ManageUnits, GrantedBy: adminA},
		{UserID: "user-a", BuildingID: buildingB, Permission: permissions.ExportData, GrantedBy: adminA},
		{UserID: "user-a", BuildingID: "other", Permission: permissions.ManageIssues, GrantedBy: adminA},
		{UserID: "user-c", BuildingID: buildingB, Permission: permissions.ManageIssues, GrantedBy: adminA, ExpiresAt: &past},
	} {
		_, err := store.Grant(ctx, req)
		require.NoError(t, err)
	}

	rows, err := store.ListForBuilding(ctx, buildingB)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "user-a", rows[0].UserID)
	assert.Equal(t, permissions.ExportData, rows[0].Permission)
	assert.Equal(t, "user-a", rows[1].UserID)
	assert.Equal(t, permissions.ManageUnits, rows[1].Permission)
	assert.Equal(t, "user-b", rows[2].UserID)
}

func TestStore_GrantsAreBuildingScoped(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Grant(ctx, GrantRequest{
		UserID:     userU,
		BuildingID: buildingB,
		Permission: permissions.ManageBuilding,
		GrantedBy:  adminA,
	})
	require.NoError(t, err)

	ok, err := store.HasActive(ctx, userU, "building-c", permissions.ManageBuilding)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_DeleteExpired(t *testing.T) {
	store, clock, db := newTestStore(t)
	ctx := context.Background()

	old := clock.Now().Add(-48 * time.Hour)
	recent := clock.Now().Add(-time.Hour)
	future := clock.Now().Add(time.Hour)
	for _, g := range []struct {
		p   permissions.Permission
		exp *time.Time
	}{
		{permissions.ManageIssues, &old},
		{permissions.ManageUnits, &recent},
		{permissions.ExportData, &future},
		{permissions.ManageTenants, nil},
	} {
		_, err := store.Grant(ctx, GrantRequest{
			UserID: userU, BuildingID: buildingB, Permission: g.p, GrantedBy: adminA, ExpiresAt: g.exp,
		})
		require.NoError(t, err)
	}

	sweeper := NewSweeper(store, time.Hour, 24*time.Hour, nil)
	assert.Equal(t, 1, sweeper.Sweep(ctx))
	assert.Equal(t, int64(3), countGrants(t, db))

	entries := auditRows(t, db, userU, buildingB)
	last := entries[len(entries)-1]
	assert.Equal(t, audit.ActionExpired, last.Action)
	assert.Equal(t, permissions.ManageIssues, last.Permission)
	assert.Equal(t, SystemActor, last.PerformedBy)

	// Nothing left past the grace period.
	assert.Equal(t, 0, sweeper.Sweep(ctx))
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	store, _, _ := newTestStore(t)
	sweeper := NewSweeper(store, 10*time.Millisecond, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	}), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	return NewStore(db), mock
}

func TestStore_StorageErrorsPropagate(t *testing.T) {
	down := errors.New("connection refused")

	t.Run("has active", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(`SELECT count\(\*\) FROM "admin_permissions"`).WillReturnError(down)

		ok, err := store.HasActive(context.Background(), userU, buildingB, permissions.ManageIssues)
		assert.False(t, ok)
		assert.ErrorIs(t, err, ErrStorageUnavailable)
		assert.ErrorIs(t, err, down)

		var se *StorageError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "check permission", se.Op)
	})

	t.Run("list active", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(`SELECT \* FROM "admin_permissions"`).WillReturnError(down)

		_, err := store.ListActive(context.Background(), userU, buildingB)
		assert.ErrorIs(t, err, ErrStorageUnavailable)
	})

	t.Run("grant", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin().WillReturnError(down)

		_, err := store.Grant(context.Background(), GrantRequest{
			UserID: userU, BuildingID: buildingB, Permission: permissions.ManageIssues, GrantedBy: adminA,
		})
		assert.ErrorIs(t, err, ErrStorageUnavailable)
	})

	t.Run("revoke rolls back on audit failure", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM "admin_permissions"`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO "permission_audit_logs"`).WillReturnError(down)
		mock.ExpectRollback()

		err := store.Revoke(context.Background(), RevokeRequest{
			UserID: userU, BuildingID: buildingB, Permission: permissions.ManageIssues, RevokedBy: adminA,
		})
		assert.ErrorIs(t, err, ErrStorageUnavailable)
		assert.NotErrorIs(t, err, ErrGrantNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_OpTimeout(t *testing.T) {
	store, mock := newMockStore(t)
	store.timeout = 20 * time.Millisecond
	mock.ExpectQuery(`SELECT count\(\*\) FROM "admin_permissions"`).
		WillDelayFor(time.Second).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	_, err := store.HasActive(context.Background(), userU, buildingB, permissions.ManageIssues)
	assert.ErrorIs(t, err, ErrStorageUnavailable)
}
