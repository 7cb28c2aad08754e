// Package store persists reminders and user sessions with GORM.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pathakanu/memobot/internal/model"
	"gorm.io/gorm"
)

// DefaultBatchLimit caps how many due reminders one poll picks up.
const DefaultBatchLimit = 500

// ErrInvalidReminder is returned by Create when a reminder fails validation.
var ErrInvalidReminder = errors.New("invalid reminder")

// MarkResult is the outcome of the guarded sent transition.
type MarkResult int

const (
	MarkedSent MarkResult = iota
	AlreadySent
	NotFound
)

func (r MarkResult) String() string {
	switch r {
	case MarkedSent:
		return "marked_sent"
	case AlreadySent:
		return "already_sent"
	case NotFound:
		return "not_found"
	}
	return fmt.Sprintf("MarkResult(%d)", int(r))
}

// ReminderStore is the system of record for reminders.
type ReminderStore struct {
	db         *gorm.DB
	validate   *validator.Validate
	batchLimit int
}

// NewReminderStore wraps db. The schema must already be migrated.
func NewReminderStore(db *gorm.DB) *ReminderStore {
	return &ReminderStore{
		db:         db,
		validate:   validator.New(),
		batchLimit: DefaultBatchLimit,
	}
}

// NewID generates a new UUIDv7.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// Create validates and inserts r, assigning its ID and CreatedAt.
func (s *ReminderStore) Create(ctx context.Context, r *model.Reminder) (string, error) {
	r.Title = strings.TrimSpace(r.Title)
	r.Owner = strings.TrimSpace(r.Owner)
	if err := s.validate.Struct(r); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidReminder, err)
	}

	if r.ID == "" {
		r.ID = NewID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	r.EventAt = normalize(r.EventAt)
	r.NotifyAt = normalize(r.NotifyAt)
	r.CreatedAt = normalize(r.CreatedAt)
	r.Sent = false
	r.SentAt = nil
	r.Attempts = 0

	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return "", fmt.Errorf("create reminder: %w", err)
	}
	return r.ID, nil
}

// FindDueUnsent returns unsent reminders whose notification time lies in
// [at-window, at], fewest failed attempts first, then oldest first. The
// lower bound keeps each poll from scanning the whole history while still
// catching reminders that fell due while the process was down.
func (s *ReminderStore) FindDueUnsent(ctx context.Context, at time.Time, window time.Duration) ([]model.Reminder, error) {
	upper := normalize(at)
	lower := normalize(at.Add(-window))

	var reminders []model.Reminder
	err := s.db.WithContext(ctx).
		Where("sent = ? AND notify_at >= ? AND notify_at <= ?", false, lower, upper).
		Order("attempts ASC, notify_at ASC").
		Limit(s.batchLimit).
		Find(&reminders).Error
	if err != nil {
		return nil, fmt.Errorf("find due reminders: %w", err)
	}
	return reminders, nil
}

// MarkSent flips sent from false to true. Only the caller that observes
// sent=false at write time gets MarkedSent; concurrent callers racing on the
// same id get AlreadySent.
func (s *ReminderStore) MarkSent(ctx context.Context, id string, at time.Time) (MarkResult, error) {
	sentAt := normalize(at)
	res := s.db.WithContext(ctx).
		Model(&model.Reminder{}).
		Where("id = ? AND sent = ?", id, false).
		Updates(map[string]any{"sent": true, "sent_at": sentAt})
	if res.Error != nil {
		return NotFound, fmt.Errorf("mark reminder %s sent: %w", id, res.Error)
	}
	if res.RowsAffected == 1 {
		return MarkedSent, nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&model.Reminder{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return NotFound, fmt.Errorf("lookup reminder %s: %w", id, err)
	}
	if count == 0 {
		return NotFound, nil
	}
	return AlreadySent, nil
}

// RecordFailure counts a failed delivery attempt on an unsent reminder.
func (s *ReminderStore) RecordFailure(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).
		Model(&model.Reminder{}).
		Where("id = ? AND sent = ?", id, false).
		UpdateColumn("attempts", gorm.Expr("attempts + ?", 1)).Error
	if err != nil {
		return fmt.Errorf("record failure for reminder %s: %w", id, err)
	}
	return nil
}

// Get loads a reminder by id.
func (s *ReminderStore) Get(ctx context.Context, id string) (*model.Reminder, error) {
	var r model.Reminder
	if err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// ListPending returns an owner's unsent reminders ordered by notification time.
func (s *ReminderStore) ListPending(ctx context.Context, owner string) ([]model.Reminder, error) {
	var reminders []model.Reminder
	err := s.db.WithContext(ctx).
		Where("owner = ? AND sent = ?", owner, false).
		Order("notify_at ASC, created_at ASC").
		Find(&reminders).Error
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	return reminders, nil
}

// DeletePending removes an owner's unsent reminders. When keyword is empty
// all of them are removed; otherwise only titles containing keyword.
// It returns the number of rows removed.
func (s *ReminderStore) DeletePending(ctx context.Context, owner, keyword string) (int64, error) {
	query := s.db.WithContext(ctx).Where("owner = ? AND sent = ?", owner, false)
	if strings.TrimSpace(keyword) != "" {
		query = query.Where("LOWER(title) LIKE ?", "%"+strings.ToLower(strings.TrimSpace(keyword))+"%")
	}
	res := query.Delete(&model.Reminder{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete reminders: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// PurgeSent deletes delivered reminders created before cutoff.
func (s *ReminderStore) PurgeSent(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("sent = ? AND created_at < ?", true, normalize(cutoff)).
		Delete(&model.Reminder{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge reminders: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// normalize stores every timestamp as whole-second UTC so that range
// comparisons agree on every backend, including SQLite's text encoding.
func normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
