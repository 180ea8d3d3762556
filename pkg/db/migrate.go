package db

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"

	"github.com/tenantunion/tenant-platform/pkg/ha"
)

// Migration modes.
const (
	MigrateAuto = "auto"
	MigrateSQL  = "sql"
	MigrateNone = "none"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

// AutoMigrator is implemented by every store that owns tables.
type AutoMigrator interface {
	AutoMigrate() error
}

// Migrate brings the schema up to date while holding the migration lock.
// In auto mode every store migrates its own tables. SQL mode applies the
// embedded versioned migrations and requires PostgreSQL.
func Migrate(ctx context.Context, gdb *gorm.DB, mode string, logger *slog.Logger, stores ...AutoMigrator) error {
	if logger == nil {
		logger = slog.Default()
	}
	if mode == MigrateNone {
		logger.Info("schema migration disabled")
		return nil
	}

	locker, err := ha.NewMigrationLocker(gdb, ha.LockOptions{Logger: logger})
	if err != nil {
		return err
	}

	return locker.WithLock(ctx, func() error {
		switch mode {
		case MigrateAuto, "":
			for _, s := range stores {
				if err := s.AutoMigrate(); err != nil {
					return err
				}
			}
			logger.Info("schema auto-migrated", "dialect", gdb.Dialector.Name())
			return nil
		case MigrateSQL:
			version, err := ApplySQLMigrations(gdb)
			if err != nil {
				return err
			}
			logger.Info("sql migrations applied", "version", version)
			return nil
		default:
			return fmt.Errorf("unknown migrate mode %q (expected auto, sql or none)", mode)
		}
	})
}

// ApplySQLMigrations runs the embedded PostgreSQL migrations and returns the
// resulting schema version.
func ApplySQLMigrations(gdb *gorm.DB) (uint, error) {
	if name := gdb.Dialector.Name(); name != TypePostgres {
		return 0, fmt.Errorf("sql migrations require postgres, got %s", name)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return 0, fmt.Errorf("get sql.DB: %w", err)
	}
	src, err := iofs.New(postgresMigrations, "migrations/postgres")
	if err != nil {
		return 0, fmt.Errorf("open embedded migrations: %w", err)
	}
	driver, err := migratepg.WithInstance(sqlDB, &migratepg.Config{})
	if err != nil {
		return 0, fmt.Errorf("create migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, TypePostgres, driver)
	if err != nil {
		return 0, fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("apply migrations: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("read migration version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("schema version %d is dirty", version)
	}
	return version, nil
}
