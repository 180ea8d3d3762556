package audit

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tenantunion/tenant-platform/pkg/permissions"
)

// ErrInvalidPageToken is returned by List for a token it did not issue.
var ErrInvalidPageToken = errors.New("invalid page token")

// Store provides append-only access to the permission audit log.
type Store struct {
	db      *gorm.DB
	timeout time.Duration
}

// NewStore creates a new Store. A zero timeout disables the per-call deadline.
func NewStore(db *gorm.DB, timeout time.Duration) *Store {
	return &Store{db: db, timeout: timeout}
}

// AutoMigrate creates or updates the audit table.
func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(&Entry{}); err != nil {
		return fmt.Errorf("auto-migrate permission_audit_logs: %w", err)
	}
	return nil
}

// Append writes a new entry using db, which may be an open transaction.
// ID and CreatedAt are filled in when empty.
func Append(db *gorm.DB, entry *Entry) error {
	if entry.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate audit id: %w", err)
		}
		entry.ID = id.String()
	}
	if entry.CreatedAt.IsZero() {
		// Microseconds survive a round trip through every supported database.
		entry.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	}
	if err := db.Create(entry).Error; err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// Filter narrows List results. BuildingID is required.
type Filter struct {
	BuildingID string
	UserID     string
	Permission permissions.Permission
	Action     Action
}

// List returns paginated entries for a building, newest first. Entries with
// the same timestamp are ordered by ID. Pass "" as pageToken for the first page.
func (s *Store) List(ctx context.Context, f Filter, pageSize int, pageToken string) ([]Entry, string, int, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	base := s.db.WithContext(ctx).Model(&Entry{}).Where("building_id = ?", f.BuildingID)
	if f.UserID != "" {
		base = base.Where("user_id = ?", f.UserID)
	}
	if f.Permission != "" {
		base = base.Where("permission = ?", f.Permission)
	}
	if f.Action != "" {
		base = base.Where("action = ?", f.Action)
	}

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count audit entries: %w", err)
	}

	query := base.Session(&gorm.Session{}).Order("created_at DESC, id DESC").Limit(pageSize + 1)
	if pageToken != "" {
		at, id, err := decodePageToken(pageToken)
		if err != nil {
			return nil, "", 0, err
		}
		query = query.Where("(created_at < ? OR (created_at = ? AND id < ?))", at, at, id)
	}

	var entries []Entry
	if err := query.Find(&entries).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list audit entries: %w", err)
	}

	var nextToken string
	if len(entries) > pageSize {
		nextToken = encodePageToken(entries[pageSize-1])
		entries = entries[:pageSize]
	}

	return entries, nextToken, int(total), nil
}

// Get returns the entry with the given ID, or nil if none exists.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var e Entry
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get audit entry: %w", err)
	}
	return &e, nil
}

// ForTuple returns every entry for a (user, building) pair, oldest first.
func (s *Store) ForTuple(ctx context.Context, userID, buildingID string) ([]Entry, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var entries []Entry
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND building_id = ?", userID, buildingID).
		Order("created_at ASC, id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("list audit entries for user: %w", err)
	}
	return entries, nil
}

// A page token is the position of the last entry served: its timestamp in
// Unix nanoseconds and its ID.
func encodePageToken(e Entry) string {
	raw := strconv.FormatInt(e.CreatedAt.UnixNano(), 10) + "." + e.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodePageToken(token string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return time.Time{}, "", ErrInvalidPageToken
	}
	nanos, id, ok := strings.Cut(string(raw), ".")
	if !ok || id == "" {
		return time.Time{}, "", ErrInvalidPageToken
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return time.Time{}, "", ErrInvalidPageToken
	}
	return time.Unix(0, n).UTC(), id, nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}
