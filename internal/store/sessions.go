package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pathakanu/memobot/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SessionStore persists onboarding state and topic memory per user.
type SessionStore struct {
	db *gorm.DB
}

// NewSessionStore wraps db. The schema must already be migrated.
func NewSessionStore(db *gorm.DB) *SessionStore {
	return &SessionStore{db: db}
}

// Get returns the session for owner, or nil when the user has never written.
func (s *SessionStore) Get(ctx context.Context, owner string) (*model.UserSession, error) {
	var session model.UserSession
	err := s.db.WithContext(ctx).Where("owner = ?", owner).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &session, nil
}

// Create inserts a fresh session for owner. An existing row is left alone.
func (s *SessionStore) Create(ctx context.Context, owner string) (*model.UserSession, error) {
	session := &model.UserSession{Owner: owner}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "owner"}}, DoNothing: true}).
		Create(session).Error
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return s.Get(ctx, owner)
}

// CompleteOnboarding stores the display name and marks onboarding done.
func (s *SessionStore) CompleteOnboarding(ctx context.Context, owner, name string) error {
	err := s.db.WithContext(ctx).
		Model(&model.UserSession{}).
		Where("owner = ?", owner).
		Updates(map[string]any{"display_name": strings.TrimSpace(name), "onboarding_complete": true}).Error
	if err != nil {
		return fmt.Errorf("complete onboarding: %w", err)
	}
	return nil
}

// RememberTopic records the last topic and entity a user talked about.
func (s *SessionStore) RememberTopic(ctx context.Context, owner, topic, entity string, at time.Time) error {
	err := s.db.WithContext(ctx).
		Model(&model.UserSession{}).
		Where("owner = ?", owner).
		Updates(map[string]any{"last_topic": topic, "last_entity": entity, "topic_at": normalize(at)}).Error
	if err != nil {
		return fmt.Errorf("remember topic: %w", err)
	}
	return nil
}

// DisplayName returns the user's name, or "" when unknown. Lookup errors are
// swallowed because the name only decorates a message.
func (s *SessionStore) DisplayName(ctx context.Context, owner string) string {
	session, err := s.Get(ctx, owner)
	if err != nil || session == nil {
		return ""
	}
	return session.DisplayName
}
