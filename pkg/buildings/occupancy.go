package buildings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// The functions in this file are the only writers of Tenancy.IsCurrent.

// Assign makes userID the current occupant of a vacant unit.
func (s *Store) Assign(ctx context.Context, unitID, userID string, start time.Time) (*Tenancy, error) {
	if unitID == "" || userID == "" {
		return nil, errors.New("unitId and userId are required")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var created *Tenancy
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockUnit(tx, unitID); err != nil {
			return err
		}
		cur, err := currentTenancy(tx, unitID, true)
		if err != nil {
			return err
		}
		if cur != nil {
			return ErrUnitOccupied
		}
		created, err = insertCurrent(tx, unitID, userID, start)
		return err
	})
	if err != nil {
		return nil, occupancyErr("assign", err)
	}
	return created, nil
}

// Transfer ends the unit's current tenancy at the given time and starts a
// new one for newUserID.
func (s *Store) Transfer(ctx context.Context, unitID, newUserID string, at time.Time) (*Tenancy, error) {
	if unitID == "" || newUserID == "" {
		return nil, errors.New("unitId and userId are required")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var created *Tenancy
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockUnit(tx, unitID); err != nil {
			return err
		}
		cur, err := currentTenancy(tx, unitID, true)
		if err != nil {
			return err
		}
		if cur == nil {
			return ErrNoCurrentTenancy
		}
		if err := endTenancy(tx, cur, at); err != nil {
			return err
		}
		created, err = insertCurrent(tx, unitID, newUserID, at)
		return err
	})
	if err != nil {
		return nil, occupancyErr("transfer", err)
	}
	return created, nil
}

// Vacate ends the unit's current tenancy.
func (s *Store) Vacate(ctx context.Context, unitID string, at time.Time) (*Tenancy, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var ended *Tenancy
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockUnit(tx, unitID); err != nil {
			return err
		}
		cur, err := currentTenancy(tx, unitID, true)
		if err != nil {
			return err
		}
		if cur == nil {
			return ErrNoCurrentTenancy
		}
		if err := endTenancy(tx, cur, at); err != nil {
			return err
		}
		ended = cur
		return nil
	})
	if err != nil {
		return nil, occupancyErr("vacate", err)
	}
	return ended, nil
}

// lockUnit takes a row lock on the unit so concurrent occupancy changes on
// dialects without partial indexes serialize.
func lockUnit(tx *gorm.DB, unitID string) error {
	var u Unit
	q := tx
	if tx.Dialector.Name() != "sqlite" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := q.Where("id = ?", unitID).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrUnitNotFound
	}
	return err
}

func currentTenancy(db *gorm.DB, unitID string, lock bool) (*Tenancy, error) {
	q := db
	if lock && db.Dialector.Name() != "sqlite" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var t Tenancy
	err := q.Where("unit_id = ? AND is_current = ?", unitID, true).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func endTenancy(tx *gorm.DB, t *Tenancy, at time.Time) error {
	end := at.UTC()
	err := tx.Model(&Tenancy{}).
		Where("id = ?", t.ID).
		Updates(map[string]any{"is_current": false, "end_date": end}).Error
	if err != nil {
		return err
	}
	t.IsCurrent = false
	t.EndDate = &end
	return nil
}

func insertCurrent(tx *gorm.DB, unitID, userID string, start time.Time) (*Tenancy, error) {
	t := &Tenancy{
		ID:        uuid.NewString(),
		UserID:    userID,
		UnitID:    unitID,
		StartDate: start.UTC(),
		IsCurrent: true,
	}
	if err := tx.Create(t).Error; err != nil {
		return nil, err
	}
	return t, nil
}

func occupancyErr(op string, err error) error {
	switch {
	case errors.Is(err, ErrUnitOccupied), errors.Is(err, ErrNoCurrentTenancy), errors.Is(err, ErrUnitNotFound):
		return err
	case isUniqueViolation(err):
		return ErrUnitOccupied
	}
	return fmt.Errorf("%s tenancy: %w", op, err)
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "duplicate entry")
}
