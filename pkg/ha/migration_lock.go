// Package ha serializes schema migrations across replicas sharing one
// database.
package ha

import (
	"context"
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"
	"time"

	"gorm.io/gorm"
)

// DefaultLockName identifies the tenant-platform migration lock.
const DefaultLockName = "tenant-platform-migration"

// MigrationLocker runs fn while holding a database-wide migration lock.
type MigrationLocker interface {
	WithLock(ctx context.Context, fn func() error) error
}

// LockOptions tunes the table-based lock used on databases without
// advisory locks.
type LockOptions struct {
	Name          string
	RetryInterval time.Duration
	MaxRetries    int
	StaleAfter    time.Duration
	Logger        *slog.Logger
}

func (o LockOptions) withDefaults() LockOptions {
	if o.Name == "" {
		o.Name = DefaultLockName
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = time.Second
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 30
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 5 * time.Minute
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// NewMigrationLocker picks a lock for the dialect: a session advisory lock on
// PostgreSQL, a lock row elsewhere. A nil db returns a lock that just calls fn.
func NewMigrationLocker(db *gorm.DB, opts LockOptions) (MigrationLocker, error) {
	if db == nil {
		return noopLock{}, nil
	}
	opts = opts.withDefaults()
	if db.Dialector.Name() == "postgres" {
		return &advisoryLock{
			db:     db,
			key:    int64(crc32.ChecksumIEEE([]byte(opts.Name))),
			logger: opts.Logger,
		}, nil
	}
	// The table must exist before concurrent callers race on the first insert.
	if err := db.AutoMigrate(&lockRow{}); err != nil {
		return nil, fmt.Errorf("create migration lock table: %w", err)
	}
	return &tableLock{db: db, opts: opts}, nil
}

type noopLock struct{}

func (noopLock) WithLock(_ context.Context, fn func() error) error { return fn() }

type advisoryLock struct {
	db     *gorm.DB
	key    int64
	logger *slog.Logger
}

// WithLock pins one pooled connection so lock and unlock share a session.
func (l *advisoryLock) WithLock(ctx context.Context, fn func() error) error {
	return l.db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		if err := conn.Exec("SELECT pg_advisory_lock(?)", l.key).Error; err != nil {
			return fmt.Errorf("acquire migration advisory lock: %w", err)
		}
		l.logger.Debug("migration lock acquired", "key", l.key)
		defer func() {
			if err := conn.WithContext(context.Background()).Exec("SELECT pg_advisory_unlock(?)", l.key).Error; err != nil {
				l.logger.Warn("failed to release migration advisory lock", "key", l.key, "error", err)
			}
		}()
		return fn()
	})
}

type lockRow struct {
	Name     string    `gorm:"primaryKey;column:name;type:varchar(128)"`
	LockedAt time.Time `gorm:"column:locked_at;not null"`
	LockedBy string    `gorm:"column:locked_by;type:varchar(255)"`
}

func (lockRow) TableName() string { return "migration_locks" }

type tableLock struct {
	db   *gorm.DB
	opts LockOptions
}

// WithLock inserts the lock row, retrying while another holder has it.
// Rows older than StaleAfter are treated as abandoned and removed.
func (l *tableLock) WithLock(ctx context.Context, fn func() error) error {
	holder, _ := os.Hostname()
	if holder == "" {
		holder = "unknown"
	}
	holder = fmt.Sprintf("%s/%d", holder, os.Getpid())

	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		l.db.WithContext(ctx).
			Where("name = ? AND locked_at < ?", l.opts.Name, time.Now().Add(-l.opts.StaleAfter)).
			Delete(&lockRow{})

		row := lockRow{Name: l.opts.Name, LockedAt: time.Now(), LockedBy: holder}
		lastErr = l.db.WithContext(ctx).Create(&row).Error
		if lastErr == nil {
			break
		}
		if attempt+1 >= l.opts.MaxRetries {
			return fmt.Errorf("acquire migration lock after %d attempts: %w", l.opts.MaxRetries, lastErr)
		}
		l.opts.Logger.Debug("migration lock busy, retrying", "lock", l.opts.Name, "attempt", attempt+1)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.opts.RetryInterval):
		}
	}

	defer func() {
		l.db.Where("name = ? AND locked_by = ?", l.opts.Name, holder).Delete(&lockRow{})
	}()
	return fn()
}
