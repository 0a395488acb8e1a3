package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/doxyme-slack-calling/internal/domain"
)

// ErrNotFound is returned when no live receipt exists for an event id.
var ErrNotFound = errors.New("not found")

// ErrEmptyEventID rejects receipts that could never deduplicate anything.
var ErrEmptyEventID = errors.New("event id is required")

// RecordEvent stores a receipt for eventID unless a live one already exists.
// It reports first=true when this call created the receipt. An expired receipt
// for the same id is replaced.
func RecordEvent(ctx context.Context, db *gorm.DB, eventID, teamID, kind string, ttl time.Duration, now time.Time) (bool, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return false, ErrEmptyEventID
	}
	now = now.UTC()
	rec := &domain.EventReceipt{
		EventID:    eventID,
		ReceiptID:  uuid.NewString(),
		TeamID:     teamID,
		Kind:       kind,
		ReceivedAt: now,
		ExpiresAt:  now.Add(ttl),
	}

	first := true
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("event_id = ? AND expires_at <= ?", eventID, now).
			Delete(&domain.EventReceipt{}).Error; err != nil {
			return err
		}
		if err := tx.Create(rec).Error; err != nil {
			if isUniqueViolation(err) {
				first = false
				return nil
			}
			return err
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return first, nil
}

// GetEvent returns the live receipt for eventID or ErrNotFound.
func GetEvent(ctx context.Context, db *gorm.DB, eventID string, now time.Time) (*domain.EventReceipt, error) {
	var rec domain.EventReceipt
	err := db.WithContext(ctx).
		Where("event_id = ? AND expires_at > ?", eventID, now.UTC()).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// PurgeExpiredEvents deletes receipts whose TTL has passed and returns how
// many rows were removed.
func PurgeExpiredEvents(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now.UTC()).Delete(&domain.EventReceipt{})
	return res.RowsAffected, res.Error
}

func isUniqueViolation(err error) bool {
	// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
	low := strings.ToLower(err.Error())
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}

// Receipts binds the receipt helpers to a database and TTL.
type Receipts struct {
	DB  *gorm.DB
	TTL time.Duration
	Now func() time.Time
}

// NewReceipts returns a ledger that keeps receipts for ttl.
func NewReceipts(db *gorm.DB, ttl time.Duration) *Receipts {
	return &Receipts{DB: db, TTL: ttl, Now: time.Now}
}

// Record reports whether eventID is seen for the first time.
func (r *Receipts) Record(ctx context.Context, eventID, teamID, kind string) (bool, error) {
	return RecordEvent(ctx, r.DB, eventID, teamID, kind, r.TTL, r.Now())
}

// Purge drops expired receipts.
func (r *Receipts) Purge(ctx context.Context) (int64, error) {
	return PurgeExpiredEvents(ctx, r.DB, r.Now())
}
