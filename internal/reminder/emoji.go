package reminder

import "strings"

// DefaultEmoji decorates reminders that match no keyword.
const DefaultEmoji = "📅"

type emojiRule struct {
	keyword string
	emoji   string
}

// Ordered so that the first matching keyword wins deterministically.
var emojiRules = []emojiRule{
	{"doctor", "👨‍⚕️"},
	{"dentist", "🦷"},
	{"hospital", "🏥"},
	{"medicine", "💊"},
	{"pill", "💊"},
	{"gym", "🏋️"},
	{"workout", "🏋️"},
	{"run", "🏃"},
	{"meeting", "💼"},
	{"work", "💼"},
	{"call", "📞"},
	{"phone", "📞"},
	{"birthday", "🎂"},
	{"party", "🎉"},
	{"rent", "💸"},
	{"pay", "💸"},
	{"bill", "💸"},
	{"bank", "🏦"},
	{"buy", "🛒"},
	{"groceries", "🛒"},
	{"shopping", "🛒"},
	{"milk", "🛒"},
	{"dinner", "🍽️"},
	{"lunch", "🍽️"},
	{"breakfast", "🍽️"},
	{"coffee", "☕"},
	{"flight", "✈️"},
	{"travel", "✈️"},
	{"train", "🚆"},
	{"car", "🚗"},
	{"exam", "📚"},
	{"class", "📚"},
	{"study", "📚"},
	{"school", "📚"},
	{"dog", "🐶"},
	{"cat", "🐱"},
	{"plants", "🪴"},
	{"haircut", "💇"},
	{"email", "✉️"},
	{"movie", "🎬"},
}

// EmojiFor picks a glyph for title: an exact keyword match first, then a word
// that starts with a keyword ("birthdays"), else DefaultEmoji. Earlier rules win.
func EmojiFor(title string) string {
	words := strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127)
	})

	for _, rule := range emojiRules {
		for _, w := range words {
			if w == rule.keyword {
				return rule.emoji
			}
		}
	}
	// Short keywords are too ambiguous as prefixes ("car" in "card").
	for _, rule := range emojiRules {
		if len(rule.keyword) < 4 {
			continue
		}
		for _, w := range words {
			if strings.HasPrefix(w, rule.keyword) {
				return rule.emoji
			}
		}
	}
	return DefaultEmoji
}
