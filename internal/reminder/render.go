package reminder

import (
	"fmt"
	"time"

	"github.com/pathakanu/memobot/internal/model"
)

const (
	dayLayout   = "Monday, January 2"
	clockLayout = "15:04"
)

// RenderConfirmation is the reply sent once a reminder is persisted.
func RenderConfirmation(r model.Reminder, loc *time.Location) string {
	event := r.EventAt.In(loc)
	notify := r.NotifyAt.In(loc)
	return fmt.Sprintf("✅ Reminder created!\n\n%s *%s*\n📅 When: %s at %s\n⏰ I'll remind you: %s at %s",
		r.Emoji, r.Title,
		event.Format(dayLayout), event.Format(clockLayout),
		notify.Format(dayLayout), notify.Format(clockLayout))
}

// RenderNotification is the message delivered at the notification time. An
// empty name falls back to a generic greeting.
func RenderNotification(r model.Reminder, name string, loc *time.Location) string {
	greeting := "Hi!"
	if name != "" {
		greeting = fmt.Sprintf("Hi %s!", name)
	}
	emoji := r.Emoji
	if emoji == "" {
		emoji = DefaultEmoji
	}
	event := r.EventAt.In(loc)
	return fmt.Sprintf("⏰ %s Reminder:\n\n%s *%s*\n📅 %s at %s\n\nDon't forget!",
		greeting, emoji, r.Title, event.Format(dayLayout), event.Format(clockLayout))
}
