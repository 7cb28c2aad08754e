package reminder

import (
	"strings"
	"testing"
	"time"

	"github.com/pathakanu/memobot/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestParseLead(t *testing.T) {
	t.Parallel()

	cases := map[string]time.Duration{
		"2 hours before":      2 * time.Hour,
		"in 2 hours":          2 * time.Hour,
		"30 minutes before":   30 * time.Minute,
		"15 min earlier":      15 * time.Minute,
		"an hour before":      time.Hour,
		"half an hour before": 30 * time.Minute,
		"1 day before":        24 * time.Hour,
		"Two Hours Before":    2 * time.Hour,
		"forty five minutes":  45 * time.Minute,
	}
	for input, want := range cases {
		got, ok := ParseLead(input)
		assert.True(t, ok, input)
		assert.Equal(t, want, got, input)
	}

	for _, input := range []string{"", "tomorrow at 8am", "at 8 am", "before", "soon"} {
		_, ok := ParseLead(input)
		assert.False(t, ok, input)
	}
}

func TestEmojiFor(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"call the dentist":      "🦷",
		"Doctor appointment":    "👨‍⚕️",
		"Mom's birthday party":  "🎂",
		"pay the electric bill": "💸",
		"birthdays":             "🎂",
		"walk":                  DefaultEmoji,
		"update the card":       DefaultEmoji,
		"visit my parents":      DefaultEmoji,
		"rental deposit":        "💸",
	}
	for title, want := range cases {
		assert.Equal(t, want, EmojiFor(title), title)
	}
}

func TestRenderNotification(t *testing.T) {
	t.Parallel()

	r := model.Reminder{
		Title:   "call the dentist",
		Emoji:   "🦷",
		EventAt: time.Date(2025, 3, 11, 13, 0, 0, 0, time.UTC),
	}
	loc := time.FixedZone("ART", -3*60*60)

	msg := RenderNotification(r, "Ana", loc)
	assert.True(t, strings.HasPrefix(msg, "⏰ Hi Ana! Reminder:"))
	assert.Contains(t, msg, "🦷 *call the dentist*")
	assert.Contains(t, msg, "Tuesday, March 11 at 10:00")

	r.Emoji = ""
	msg = RenderNotification(r, "", loc)
	assert.True(t, strings.HasPrefix(msg, "⏰ Hi! Reminder:"))
	assert.Contains(t, msg, DefaultEmoji)
}
