package bot

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pathakanu/memobot/internal/model"
	"github.com/pathakanu/memobot/internal/reminder"
	"go.uber.org/zap"
)

// command answers the keyword fast paths. ok is false when text is not a
// command and should be classified.
func (b *Bot) command(ctx context.Context, owner, text string, session *model.UserSession) (string, bool) {
	lower := strings.ToLower(strings.Trim(strings.TrimSpace(text), ".!?"))

	switch {
	case isGreeting(lower):
		name := ""
		if session != nil && session.DisplayName != "" {
			name = " " + session.DisplayName
		}
		return fmt.Sprintf("Hi%s! How can I help you today?", name), true
	case isClearAllRequest(lower):
		n, err := b.reminders.DeletePending(ctx, owner, "")
		if err != nil {
			b.logger.Error("clear reminders", zap.String("owner", owner), zap.Error(err))
			return "Hmm, I couldn't clear your reminders. Please try again later.", true
		}
		if n == 0 {
			return "You have no pending reminders.", true
		}
		return "All reminders cleared.", true
	case isListRequest(lower):
		return b.listReminders(ctx, owner), true
	case lower == "help" || lower == "menu":
		return helpResponse(), true
	}

	keyword, ok := extractDeleteKeyword(text)
	if !ok {
		return "", false
	}
	if keyword == "" {
		return "Tell me which reminder to delete, e.g. 'delete reminder about milk'.", true
	}
	n, err := b.reminders.DeletePending(ctx, owner, keyword)
	if err != nil {
		b.logger.Error("delete reminder", zap.String("owner", owner), zap.String("keyword", keyword), zap.Error(err))
		return "Hmm, I couldn't delete that reminder. Please try again later.", true
	}
	if n == 0 {
		return fmt.Sprintf("I couldn't find a pending reminder matching '%s'.", keyword), true
	}
	return fmt.Sprintf("Deleted reminders matching '%s'.", keyword), true
}

func (b *Bot) listReminders(ctx context.Context, owner string) string {
	reminders, err := b.reminders.ListPending(ctx, owner)
	if err != nil {
		b.logger.Error("list reminders", zap.String("owner", owner), zap.Error(err))
		return "Hmm, I couldn't load your reminders. Please try again later."
	}
	if len(reminders) == 0 {
		return "You have no reminders yet. Send me one to get started!"
	}

	loc := b.cfg.LocalTimezone
	var sb strings.Builder
	sb.WriteString("📋 Your reminders:\n")
	for i, r := range reminders {
		emoji := r.Emoji
		if emoji == "" {
			emoji = reminder.DefaultEmoji
		}
		fmt.Fprintf(&sb, "\n%d. %s %s\n   📅 %s\n   ⏰ %s",
			i+1, emoji, r.Title,
			r.EventAt.In(loc).Format("Mon Jan 2 at 15:04"),
			r.NotifyAt.In(loc).Format("Mon Jan 2 at 15:04"))
	}
	return sb.String()
}

var greetings = map[string]struct{}{
	"hi": {}, "hello": {}, "hey": {}, "hola": {}, "good morning": {},
	"good afternoon": {}, "good evening": {},
}

func isGreeting(lower string) bool {
	_, ok := greetings[lower]
	return ok
}

func isListRequest(body string) bool {
	return strings.Contains(body, "show my reminders") ||
		strings.Contains(body, "list my reminders") ||
		strings.Contains(body, "show reminders") ||
		strings.Contains(body, "list reminders") ||
		(strings.HasPrefix(body, "list") && strings.Contains(body, "reminder"))
}

func isClearAllRequest(body string) bool {
	return body == "clear all reminders" ||
		body == "clear reminders" ||
		body == "delete all reminders"
}

func helpResponse() string {
	return "You can say things like:\n" +
		"- \"Remind me about the dentist tomorrow at 3pm\" to add a reminder\n" +
		"- \"What's the weather in Madrid?\" for a forecast\n" +
		"- \"List reminders\" to see everything pending\n" +
		"- \"Delete reminder about dentist\" to remove one\n" +
		"- \"Clear all reminders\" to wipe everything"
}

var deleteKeywordRegex = regexp.MustCompile(`(?i)^\s*(?:delete|remove|cancel)\s+reminders?(?:\s+(?:about|for))?\s*(.*)$`)

// extractDeleteKeyword reports whether message is a delete command and the
// keyword it names, if any.
func extractDeleteKeyword(message string) (string, bool) {
	matches := deleteKeywordRegex.FindStringSubmatch(message)
	if len(matches) < 2 {
		return "", false
	}
	return strings.Trim(strings.TrimSpace(matches[1]), ".!?'\""), true
}

var followUpRegex = regexp.MustCompile(`(?i)^\s*(?:and|what about|how about)\b`)

// isFollowUp reports whether text continues the previous topic, as in
// "and tomorrow?".
func isFollowUp(text string) bool {
	return followUpRegex.MatchString(text)
}

var namePrefixRegex = regexp.MustCompile(`(?i)^(?:my name is|i am|i'm|im|it's|call me)\s+`)

// extractName pulls a display name out of an onboarding answer.
func extractName(text string) string {
	name := strings.TrimSpace(text)
	name = namePrefixRegex.ReplaceAllString(name, "")
	name = strings.Trim(name, ".!?,")
	fields := strings.Fields(name)
	if len(fields) == 0 || len(fields) > 4 {
		return ""
	}
	for i, f := range fields {
		r, size := utf8.DecodeRuneInString(f)
		fields[i] = string(unicode.ToUpper(r)) + f[size:]
	}
	return strings.Join(fields, " ")
}
