package model

import "time"

// Reminder represents a scheduled WhatsApp notification for a user.
type Reminder struct {
	ID        string     `gorm:"primaryKey;size:36"`
	Owner     string     `gorm:"index;not null" validate:"required"`
	Title     string     `gorm:"type:text;not null" validate:"required"`
	Emoji     string     `gorm:"size:16"`
	EventAt   time.Time  `gorm:"not null" validate:"required"`
	NotifyAt  time.Time  `gorm:"index:idx_reminders_due,priority:2;not null" validate:"required"`
	Sent      bool       `gorm:"index:idx_reminders_due,priority:1;not null;default:false"`
	SentAt    *time.Time
	Attempts  int       `gorm:"not null;default:0"`
	CreatedAt time.Time `gorm:"not null"`
}

// ReminderFields is what the language model managed to extract from a
// reminder request. Empty strings mean the field could not be filled.
type ReminderFields struct {
	Title        string
	Date         string
	Time         string
	NotifyOffset string
}

// WeatherQuery is the structured form of a weather question.
type WeatherQuery struct {
	City      string
	DaysAhead int
	Forecast  bool
	MultiDay  bool
}
