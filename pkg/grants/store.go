// Package grants persists per-building admin permission grants together with
// their audit trail. Expiry is evaluated when grants are read; expired rows
// are never treated as active even before the sweeper removes them.
package grants

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tenantunion/tenant-platform/pkg/audit"
	"github.com/tenantunion/tenant-platform/pkg/permissions"
)

// DefaultOpTimeout bounds every store call that does not already carry a
// shorter deadline.
const DefaultOpTimeout = 5 * time.Second

// SystemActor is recorded as performer for changes made by background workers.
const SystemActor = "system"

// Store provides grant, revoke and lookup operations for admin permissions.
type Store struct {
	db      *gorm.DB
	timeout time.Duration
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithTimeout overrides DefaultOpTimeout. Zero disables the deadline.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.timeout = d
	}
}

// WithClock sets the clock used for expiry checks and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a new Store.
func NewStore(db *gorm.DB, opts ...Option) *Store {
	s := &Store{
		db:      db,
		timeout: DefaultOpTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AutoMigrate creates or updates the grant and audit tables.
func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(&AdminPermission{}); err != nil {
		return fmt.Errorf("auto-migrate admin_permissions: %w", err)
	}
	if err := s.db.AutoMigrate(&audit.Entry{}); err != nil {
		return fmt.Errorf("auto-migrate permission_audit_logs: %w", err)
	}
	return nil
}

// Grant creates the grant, or updates grantedBy and expiresAt if the tuple is
// already granted, and appends a "granted" audit entry in the same
// transaction. Granting twice leaves exactly one row.
func (s *Store) Grant(ctx context.Context, req GrantRequest) (*AdminPermission, error) {
	if err := validateTuple(req.UserID, req.BuildingID, req.Permission); err != nil {
		return nil, err
	}
	if req.GrantedBy == "" {
		return nil, errors.New("grantedBy is required")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := s.clock()
	var granted AdminPermission
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := s.upsert(tx, req.UserID, req.BuildingID, req.Permission, req.GrantedBy, req.ExpiresAt, now)
		if err != nil {
			return err
		}
		granted = *row
		return audit.Append(tx, &audit.Entry{
			UserID:      req.UserID,
			BuildingID:  req.BuildingID,
			Permission:  req.Permission,
			Action:      audit.ActionGranted,
			PerformedBy: req.GrantedBy,
			Reason:      req.Reason,
			CreatedAt:   now,
		})
	})
	if err != nil {
		return nil, storageErr("grant permission", err)
	}
	return &granted, nil
}

// GrantMany grants every permission in ps with the same semantics as Grant,
// atomically. Duplicates in ps are granted once.
func (s *Store) GrantMany(ctx context.Context, userID, buildingID string, ps []permissions.Permission, grantedBy string, expiresAt *time.Time, reason string) ([]AdminPermission, error) {
	if len(ps) == 0 {
		return nil, nil
	}
	for _, p := range ps {
		if err := validateTuple(userID, buildingID, p); err != nil {
			return nil, err
		}
	}
	if grantedBy == "" {
		return nil, errors.New("grantedBy is required")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := s.clock()
	seen := make(map[permissions.Permission]bool, len(ps))
	var out []AdminPermission
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, p := range ps {
			if seen[p] {
				continue
			}
			seen[p] = true

			row, err := s.upsert(tx, userID, buildingID, p, grantedBy, expiresAt, now)
			if err != nil {
				return err
			}
			out = append(out, *row)

			if err := audit.Append(tx, &audit.Entry{
				UserID:      userID,
				BuildingID:  buildingID,
				Permission:  p,
				Action:      audit.ActionGranted,
				PerformedBy: grantedBy,
				Reason:      reason,
				CreatedAt:   now,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("grant permissions", err)
	}
	return out, nil
}

// upsert inserts or refreshes one grant row and returns the stored row.
func (s *Store) upsert(tx *gorm.DB, userID, buildingID string, p permissions.Permission, grantedBy string, expiresAt *time.Time, now time.Time) (*AdminPermission, error) {
	row := AdminPermission{
		ID:         uuid.New().String(),
		UserID:     userID,
		BuildingID: buildingID,
		Permission: p,
		GrantedBy:  grantedBy,
		ExpiresAt:  utcPtr(expiresAt),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "building_id"}, {Name: "permission"}},
		DoUpdates: clause.AssignmentColumns([]string{"granted_by", "expires_at", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return nil, fmt.Errorf("upsert admin permission: %w", err)
	}

	var stored AdminPermission
	if err := tx.Where("user_id = ? AND building_id = ? AND permission = ?", userID, buildingID, p).
		First(&stored).Error; err != nil {
		return nil, fmt.Errorf("reload admin permission: %w", err)
	}
	return &stored, nil
}

// Revoke deletes the grant and appends a "revoked" audit entry in the same
// transaction. It returns ErrGrantNotFound, and writes nothing, if the tuple
// was never granted.
func (s *Store) Revoke(ctx context.Context, req RevokeRequest) error {
	if err := validateTuple(req.UserID, req.BuildingID, req.Permission); err != nil {
		return err
	}
	if req.RevokedBy == "" {
		return errors.New("revokedBy is required")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := s.clock()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("user_id = ? AND building_id = ? AND permission = ?",
			req.UserID, req.BuildingID, req.Permission).
			Delete(&AdminPermission{})
		if res.Error != nil {
			return fmt.Errorf("delete admin permission: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrGrantNotFound
		}
		return audit.Append(tx, &audit.Entry{
			UserID:      req.UserID,
			BuildingID:  req.BuildingID,
			Permission:  req.Permission,
			Action:      audit.ActionRevoked,
			PerformedBy: req.RevokedBy,
			Reason:      req.Reason,
			CreatedAt:   now,
		})
	})
	if errors.Is(err, ErrGrantNotFound) {
		return ErrGrantNotFound
	}
	return storageErr("revoke permission", err)
}

// ListActive returns the user's unexpired grants for a building, ordered by permission.
func (s *Store) ListActive(ctx context.Context, userID, buildingID string) ([]AdminPermission, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var rows []AdminPermission
	err := s.active(ctx).
		Where("user_id = ? AND building_id = ?", userID, buildingID).
		Order("permission ASC").
		Find(&rows).Error
	if err != nil {
		return nil, storageErr("list active permissions", err)
	}
	return rows, nil
}

// ActivePermissions returns the user's unexpired permissions for a building as a set.
func (s *Store) ActivePermissions(ctx context.Context, userID, buildingID string) (permissions.Set, error) {
	rows, err := s.ListActive(ctx, userID, buildingID)
	if err != nil {
		return nil, err
	}
	set := permissions.NewSet()
	for _, r := range rows {
		set.Add(r.Permission)
	}
	return set, nil
}

// HasActive reports whether an unexpired grant exists for the tuple.
func (s *Store) HasActive(ctx context.Context, userID, buildingID string, p permissions.Permission) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var count int64
	err := s.active(ctx).
		Model(&AdminPermission{}).
		Where("user_id = ? AND building_id = ? AND permission = ?", userID, buildingID, p).
		Count(&count).Error
	if err != nil {
		return false, storageErr("check permission", err)
	}
	return count > 0, nil
}

// ListForBuilding returns every unexpired grant in a building, ordered by user then permission.
func (s *Store) ListForBuilding(ctx context.Context, buildingID string) ([]AdminPermission, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var rows []AdminPermission
	err := s.active(ctx).
		Where("building_id = ?", buildingID).
		Order("user_id ASC, permission ASC").
		Find(&rows).Error
	if err != nil {
		return nil, storageErr("list building permissions", err)
	}
	return rows, nil
}

// DeleteExpired removes up to limit grants whose expiry is at or before
// cutoff, writing one "expired" audit entry per row in the same transaction.
// It returns the number of grants removed.
func (s *Store) DeleteExpired(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 500
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := s.clock()
	deleted := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []AdminPermission
		if err := tx.Where("expires_at IS NOT NULL AND expires_at <= ?", cutoff.UTC()).
			Order("expires_at ASC").
			Limit(limit).
			Find(&rows).Error; err != nil {
			return fmt.Errorf("find expired permissions: %w", err)
		}
		for _, row := range rows {
			res := tx.Where("id = ?", row.ID).Delete(&AdminPermission{})
			if res.Error != nil {
				return fmt.Errorf("delete expired permission: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				continue
			}
			if err := audit.Append(tx, &audit.Entry{
				UserID:      row.UserID,
				BuildingID:  row.BuildingID,
				Permission:  row.Permission,
				Action:      audit.ActionExpired,
				PerformedBy: SystemActor,
				CreatedAt:   now,
			}); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, storageErr("delete expired permissions", err)
	}
	return deleted, nil
}

// active scopes a query to grants that have not expired.
func (s *Store) active(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Where("expires_at IS NULL OR expires_at > ?", s.clock())
}

func (s *Store) clock() time.Time {
	return s.now().UTC()
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func validateTuple(userID, buildingID string, p permissions.Permission) error {
	if userID == "" {
		return errors.New("userId is required")
	}
	if buildingID == "" {
		return errors.New("buildingId is required")
	}
	if !permissions.Valid(p) {
		return fmt.Errorf("%w: %q", permissions.ErrUnknownPermission, p)
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
