package model

import "time"

// Topics remembered on a UserSession.
const (
	TopicWeather  = "weather"
	TopicReminder = "reminder"
	TopicChat     = "chat"
)

// UserSession keeps onboarding state and the last topic a user talked about.
type UserSession struct {
	ID                 uint   `gorm:"primaryKey"`
	Owner              string `gorm:"uniqueIndex;not null"`
	DisplayName        string
	OnboardingComplete bool `gorm:"not null;default:false"`
	LastTopic          string
	LastEntity         string
	TopicAt            time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// FreshTopic returns the remembered topic and entity when they were recorded
// within ttl of now. Stale memory forces a fresh disambiguation.
func (s *UserSession) FreshTopic(now time.Time, ttl time.Duration) (string, string, bool) {
	if s == nil || s.LastTopic == "" {
		return "", "", false
	}
	if now.Sub(s.TopicAt) > ttl {
		return "", "", false
	}
	return s.LastTopic, s.LastEntity, true
}
