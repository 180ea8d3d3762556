package buildings

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) (*Store, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	s := NewStore(db, 0)
	require.NoError(t, s.AutoMigrate())
	return s, db
}

func seedBuilding(t *testing.T, s *Store, floors, perFloor int) (*Building, []Unit) {
	t.Helper()
	b := &Building{Name: "Maple Court", Address: "12 Maple St", Floors: floors, UnitsPerFloor: perFloor}
	units, err := s.CreateBuilding(context.Background(), b, true)
	require.NoError(t, err)
	return b, units
}

func TestCreateBuilding_BulkUnits(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	b, units := seedBuilding(t, s, 3, 4)
	require.Len(t, units, 12)
	assert.NotEmpty(t, b.ID)

	listed, err := s.ListUnits(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, listed, 12)
	assert.Equal(t, "1A", listed[0].Number)
	assert.Equal(t, "1D", listed[3].Number)
	assert.Equal(t, "3D", listed[11].Number)
	assert.Equal(t, 3, listed[11].Floor)
}

func TestCreateBuilding_Validation(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		b    Building
	}{
		{"missing name", Building{Floors: 1, UnitsPerFloor: 1}},
		{"negative floors", Building{Name: "x", Floors: -1}},
		{"too many units per floor", Building{Name: "x", Floors: 1, UnitsPerFloor: MaxUnitsPerFloor + 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.b
			_, err := s.CreateBuilding(ctx, &b, true)
			assert.Error(t, err)
		})
	}
}

func TestCreateBuilding_WithoutUnits(t *testing.T) {
	s, _ := newTestStore(t)
	b := &Building{Name: "Empty", Floors: 5, UnitsPerFloor: 5}
	units, err := s.CreateBuilding(context.Background(), b, false)
	require.NoError(t, err)
	assert.Empty(t, units)

	listed, err := s.ListUnits(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestLookups(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	b, units := seedBuilding(t, s, 1, 2)

	issue := &Issue{BuildingID: b.ID, UnitID: &units[0].ID, Title: "Leaking radiator"}
	require.NoError(t, s.CreateIssue(ctx, issue))

	got, err := s.IssueBuilding(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got)

	got, err = s.UnitBuilding(ctx, units[1].ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got)

	got, err = s.IssueBuilding(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.UnitBuilding(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, got)

	loaded, err := s.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "open", loaded.Status)

	loaded, err = s.GetIssue(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestAssignRole_OnePerBuilding(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()
	b, _ := seedBuilding(t, s, 1, 1)

	first, err := s.AssignRole(ctx, "user-1", b.ID, RoleTenant)
	require.NoError(t, err)
	second, err := s.AssignRole(ctx, "user-1", b.ID, RoleBuildingAdmin)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, RoleBuildingAdmin, second.Role)

	var n int64
	require.NoError(t, db.Model(&BuildingRole{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)

	_, err = s.AssignRole(ctx, "user-1", b.ID, Role("mayor"))
	assert.Error(t, err)
}

func TestPrimaryBuilding(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	home, homeUnits := seedBuilding(t, s, 1, 1)
	work, _ := seedBuilding(t, s, 1, 1)

	got, err := s.PrimaryBuilding(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, got, "no memberships")

	_, err = s.Assign(ctx, homeUnits[0].ID, "user-1", time.Now())
	require.NoError(t, err)
	got, err = s.PrimaryBuilding(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, home.ID, got, "falls back to current tenancy")

	_, err = s.AssignRole(ctx, "user-1", work.ID, RoleAssociationAdmin)
	require.NoError(t, err)
	got, err = s.PrimaryBuilding(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, work.ID, got, "roles take precedence over tenancies")
}

func TestOccupancy_AssignTransferVacate(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	_, units := seedBuilding(t, s, 1, 1)
	unit := units[0].ID
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	first, err := s.Assign(ctx, unit, "user-1", t0)
	require.NoError(t, err)
	assert.True(t, first.IsCurrent)

	_, err = s.Assign(ctx, unit, "user-2", t0)
	assert.ErrorIs(t, err, ErrUnitOccupied)

	second, err := s.Transfer(ctx, unit, "user-2", t0.AddDate(0, 6, 0))
	require.NoError(t, err)
	assert.Equal(t, "user-2", second.UserID)

	cur, err := s.CurrentTenancy(ctx, unit)
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, second.ID, cur.ID)

	ended, err := s.Vacate(ctx, unit, t0.AddDate(1, 0, 0))
	require.NoError(t, err)
	require.NotNil(t, ended.EndDate)
	assert.False(t, ended.IsCurrent)

	cur, err = s.CurrentTenancy(ctx, unit)
	require.NoError(t, err)
	assert.Nil(t, cur)

	history, err := s.TenancyHistory(ctx, unit)
	require.NoError(t, err)
	require.Len(t, history, 2)
	for _, h := range history {
		assert.False(t, h.IsCurrent)
		assert.NotNil(t, h.EndDate)
	}
	assert.True(t, history[0].EndDate.Equal(t0.AddDate(0, 6, 0)))
}

func TestOccupancy_VacantUnit(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	_, units := seedBuilding(t, s, 1, 1)

	_, err := s.Transfer(ctx, units[0].ID, "user-2", time.Now())
	assert.ErrorIs(t, err, ErrNoCurrentTenancy)

	_, err = s.Vacate(ctx, units[0].ID, time.Now())
	assert.ErrorIs(t, err, ErrNoCurrentTenancy)

	_, err = s.Assign(ctx, "no-such-unit", "user-1", time.Now())
	assert.ErrorIs(t, err, ErrUnitNotFound)
}

func TestOccupancy_PartialIndexRejectsSecondCurrent(t *testing.T) {
	s, db := newTestStore(t)
	_, units := seedBuilding(t, s, 1, 1)
	_, err := s.Assign(context.Background(), units[0].ID, "user-1", time.Now())
	require.NoError(t, err)

	// Bypass the state machine to prove the index holds on its own.
	err = db.Create(&Tenancy{ID: "rogue", UserID: "user-2", UnitID: units[0].ID, StartDate: time.Now(), IsCurrent: true}).Error
	require.Error(t, err)
	assert.True(t, isUniqueViolation(err), "unexpected error: %v", err)
	assert.ErrorIs(t, occupancyErr("assign", err), ErrUnitOccupied)
}

func TestOccupancy_ConcurrentAssignOneWins(t *testing.T) {
	s, _ := newTestStore(t)
	_, units := seedBuilding(t, s, 1, 1)

	const n = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Assign(context.Background(), units[0].ID, fmt.Sprintf("user-%d", i), time.Now())
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrUnitOccupied)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestRoleValid(t *testing.T) {
	for _, r := range []Role{RoleTenant, RoleAssociationAdmin, RoleBuildingAdmin} {
		assert.True(t, r.Valid(), r)
	}
	assert.False(t, Role("").Valid())
}
