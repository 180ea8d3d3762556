package buildings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultOpTimeout bounds every store call that does not already carry a
// shorter deadline.
const DefaultOpTimeout = 5 * time.Second

// MaxUnitsPerFloor is the number of unit line letters available (A..Z).
const MaxUnitsPerFloor = 26

// Store reads and writes buildings, units, memberships and tenancies.
type Store struct {
	db      *gorm.DB
	timeout time.Duration
}

// NewStore creates a new Store. A zero timeout uses DefaultOpTimeout.
func NewStore(db *gorm.DB, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = DefaultOpTimeout
	}
	return &Store{db: db, timeout: timeout}
}

// AutoMigrate creates or updates the tables and, where the dialect supports
// it, the partial unique index that allows one current tenancy per unit.
func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(&User{}, &Building{}, &Unit{}, &Tenancy{}, &BuildingRole{}, &Issue{}); err != nil {
		return fmt.Errorf("auto-migrate buildings: %w", err)
	}
	switch s.db.Dialector.Name() {
	case "postgres", "sqlite":
		stmt := "CREATE UNIQUE INDEX IF NOT EXISTS ux_tenancies_current_unit ON tenancies (unit_id) WHERE is_current"
		if err := s.db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create ux_tenancies_current_unit: %w", err)
		}
	}
	return nil
}

// CreateUser inserts a user, assigning an ID if empty.
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// CreateBuilding inserts b. With bulkUnits it also creates
// Floors x UnitsPerFloor units numbered 1A, 1B, ... in the same transaction.
func (s *Store) CreateBuilding(ctx context.Context, b *Building, bulkUnits bool) ([]Unit, error) {
	if b.Name == "" {
		return nil, errors.New("building name is required")
	}
	if b.Floors < 0 || b.UnitsPerFloor < 0 || b.UnitsPerFloor > MaxUnitsPerFloor {
		return nil, fmt.Errorf("invalid layout: %d floors x %d units", b.Floors, b.UnitsPerFloor)
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}

	var units []Unit
	if bulkUnits {
		units = layoutUnits(b.ID, b.Floors, b.UnitsPerFloor)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(b).Error; err != nil {
			return fmt.Errorf("create building: %w", err)
		}
		if len(units) > 0 {
			if err := tx.CreateInBatches(&units, 200).Error; err != nil {
				return fmt.Errorf("create units: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return units, nil
}

func layoutUnits(buildingID string, floors, perFloor int) []Unit {
	units := make([]Unit, 0, floors*perFloor)
	for f := 1; f <= floors; f++ {
		for i := 0; i < perFloor; i++ {
			units = append(units, Unit{
				ID:         uuid.NewString(),
				BuildingID: buildingID,
				Number:     fmt.Sprintf("%d%c", f, 'A'+i),
				Floor:      f,
			})
		}
	}
	return units
}

// CreateUnit inserts a single unit.
func (s *Store) CreateUnit(ctx context.Context, u *Unit) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		return fmt.Errorf("create unit: %w", err)
	}
	return nil
}

// ListUnits returns a building's units ordered by floor and number.
func (s *Store) ListUnits(ctx context.Context, buildingID string) ([]Unit, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var units []Unit
	err := s.db.WithContext(ctx).
		Where("building_id = ?", buildingID).
		Order("floor ASC").Order("number ASC").
		Find(&units).Error
	if err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	return units, nil
}

// AssignRole sets the user's role in a building, replacing any previous role.
func (s *Store) AssignRole(ctx context.Context, userID, buildingID string, role Role) (*BuildingRole, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("unknown role %q", role)
	}
	if userID == "" || buildingID == "" {
		return nil, errors.New("userId and buildingId are required")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row := BuildingRole{
		ID:         uuid.NewString(),
		UserID:     userID,
		BuildingID: buildingID,
		Role:       role,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "building_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role"}),
	}).Create(&row).Error
	if err != nil {
		return nil, fmt.Errorf("assign role: %w", err)
	}

	var got BuildingRole
	err = s.db.WithContext(ctx).
		Where("user_id = ? AND building_id = ?", userID, buildingID).
		First(&got).Error
	if err != nil {
		return nil, fmt.Errorf("reload role: %w", err)
	}
	return &got, nil
}

// CreateIssue inserts an issue.
func (s *Store) CreateIssue(ctx context.Context, issue *Issue) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if issue.ID == "" {
		issue.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(issue).Error; err != nil {
		return fmt.Errorf("create issue: %w", err)
	}
	return nil
}

// GetIssue returns the issue, or nil if it does not exist.
func (s *Store) GetIssue(ctx context.Context, id string) (*Issue, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var issue Issue
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&issue).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get issue: %w", err)
	}
	return &issue, nil
}

// IssueBuilding returns the building an issue belongs to, or "" if the issue
// does not exist.
func (s *Store) IssueBuilding(ctx context.Context, issueID string) (string, error) {
	return s.buildingOf(ctx, &Issue{}, issueID)
}

// UnitBuilding returns the building a unit belongs to, or "" if the unit
// does not exist.
func (s *Store) UnitBuilding(ctx context.Context, unitID string) (string, error) {
	return s.buildingOf(ctx, &Unit{}, unitID)
}

func (s *Store) buildingOf(ctx context.Context, model any, id string) (string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var ids []string
	err := s.db.WithContext(ctx).Model(model).
		Where("id = ?", id).
		Limit(1).
		Pluck("building_id", &ids).Error
	if err != nil {
		return "", fmt.Errorf("lookup building: %w", err)
	}
	if len(ids) == 0 {
		return "", nil
	}
	return ids[0], nil
}

// PrimaryBuilding returns the building of the user's oldest role, else the
// building of their oldest current tenancy, else "".
func (s *Store) PrimaryBuilding(ctx context.Context, userID string) (string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	db := s.db.WithContext(ctx)

	var ids []string
	err := db.Model(&BuildingRole{}).
		Where("user_id = ?", userID).
		Order("created_at ASC").Order("id ASC").
		Limit(1).
		Pluck("building_id", &ids).Error
	if err != nil {
		return "", fmt.Errorf("primary building by role: %w", err)
	}
	if len(ids) > 0 {
		return ids[0], nil
	}

	err = db.Model(&Tenancy{}).
		Joins("JOIN units ON units.id = tenancies.unit_id").
		Where("tenancies.user_id = ? AND tenancies.is_current = ?", userID, true).
		Order("tenancies.start_date ASC").
		Limit(1).
		Pluck("units.building_id", &ids).Error
	if err != nil {
		return "", fmt.Errorf("primary building by tenancy: %w", err)
	}
	if len(ids) > 0 {
		return ids[0], nil
	}
	return "", nil
}

// CurrentTenancy returns the unit's current tenancy, or nil if vacant.
func (s *Store) CurrentTenancy(ctx context.Context, unitID string) (*Tenancy, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	t, err := currentTenancy(s.db.WithContext(ctx), unitID, false)
	if err != nil {
		return nil, fmt.Errorf("current tenancy: %w", err)
	}
	return t, nil
}

// TenancyHistory returns every tenancy of a unit, oldest first.
func (s *Store) TenancyHistory(ctx context.Context, unitID string) ([]Tenancy, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var rows []Tenancy
	err := s.db.WithContext(ctx).
		Where("unit_id = ?", unitID).
		Order("start_date ASC").Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("tenancy history: %w", err)
	}
	return rows, nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}
