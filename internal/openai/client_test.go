package openai

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientWithoutKey(t *testing.T) {
	t.Parallel()
	client := New("", "")
	ctx := context.Background()

	assert.False(t, client.Enabled())

	_, err := client.ClassifyIntent(ctx, "remind me to pay rent")
	assert.ErrorIs(t, err, ErrClientNotInitialised)

	_, err = client.ExtractReminder(ctx, "remind me to pay rent", time.Now())
	assert.ErrorIs(t, err, ErrClientNotInitialised)

	_, err = client.Reply(ctx, "hello")
	assert.ErrorIs(t, err, ErrClientNotInitialised)

	_, err = client.Transcribe(ctx, strings.NewReader("ogg"), "voice.ogg", "audio/ogg")
	assert.ErrorIs(t, err, ErrClientNotInitialised)
}

func TestParseReminderFields(t *testing.T) {
	t.Parallel()

	raw := "Sure! Here it is:\n```json\n" +
		`{"type":"reminder","data":{"title":"call the dentist","date":"tomorrow","time":"10:00","notify":null}}` +
		"\n```"
	got, err := ParseReminderFields(raw)
	require.NoError(t, err)
	assert.Equal(t, "call the dentist", got.Title)
	assert.Equal(t, "tomorrow", got.Date)
	assert.Equal(t, "10:00", got.Time)
	assert.Empty(t, got.NotifyOffset)

	got, err = ParseReminderFields(`{"type":"reminder","data":{"title":"gym","date":"null","time":null,"notify":"2 hours before"}}`)
	require.NoError(t, err)
	assert.Empty(t, got.Date)
	assert.Empty(t, got.Time)
	assert.Equal(t, "2 hours before", got.NotifyOffset)
}

func TestParseReminderFieldsFailures(t *testing.T) {
	t.Parallel()

	_, err := ParseReminderFields(`{"type":"unknown"}`)
	assert.ErrorIs(t, err, ErrNotReminder)

	_, err = ParseReminderFields("I could not find a reminder here")
	assert.ErrorIs(t, err, ErrMalformedOutput)

	_, err = ParseReminderFields(`{"type":"reminder","data":{"title":`)
	assert.ErrorIs(t, err, ErrMalformedOutput)
}

func TestParseWeatherQuery(t *testing.T) {
	t.Parallel()

	got, err := ParseWeatherQuery(`{"type":"forecast","city":"Rosario","days_ahead":1,"show_multiple_days":false}`)
	require.NoError(t, err)
	assert.Equal(t, "Rosario", got.City)
	assert.Equal(t, 1, got.DaysAhead)
	assert.True(t, got.Forecast)
	assert.False(t, got.MultiDay)

	got, err = ParseWeatherQuery(`{"type":"current","city":null,"days_ahead":-2}`)
	require.NoError(t, err)
	assert.Empty(t, got.City)
	assert.Zero(t, got.DaysAhead)
	assert.False(t, got.Forecast)
}

func TestReminderPromptUsesClientLocation(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("UTC-3", -3*3600)
	// 01:30 UTC on Tuesday is still Monday evening at UTC-3.
	now := time.Date(2025, 3, 11, 1, 30, 0, 0, time.UTC)

	prompt := New("", "").WithLocation(loc).reminderSystemPrompt(now)
	assert.Contains(t, prompt, "Today is 2025-03-10 (Monday)")

	prompt = New("", "").WithLocation(time.UTC).reminderSystemPrompt(now)
	assert.Contains(t, prompt, "Today is 2025-03-11 (Tuesday)")
}
