package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/pathakanu/memobot/internal/model"
	"github.com/tidwall/gjson"

	openai "github.com/openai/openai-go/v3"
)

const transcribeTimeout = 60 * time.Second

// ErrNotReminder is returned when the model decides the text is not a
// reminder request at all.
var ErrNotReminder = errors.New("message is not a reminder request")

// ErrMalformedOutput is returned when no JSON object can be found in the
// model's answer.
var ErrMalformedOutput = errors.New("model returned malformed output")

var jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)

const reminderPrompt = `Extract the details of a reminder from the user's message.
Today is %s (%s).
Reply only with JSON in this shape:
{"type":"reminder","data":{"title":"...","date":"...","time":"...","notify":"..."}}
- title: short description of the event, without the date or time
- date: YYYY-MM-DD when the user gives an explicit date, otherwise the user's own words ("today", "tomorrow", "in 3 days")
- time: HH:MM in 24h format, or the user's words ("10 in the morning")
- notify: when to warn the user, in the user's words ("2 hours before", "30 minutes before", "tomorrow at 8am")
Use null for any field you cannot fill. If the message is not a reminder, reply {"type":"unknown"}.`

const weatherPrompt = `You analyse weather questions. Reply only with JSON:
{"type":"current"|"forecast","city":"..."|null,"days_ahead":0,"show_multiple_days":false}
- type: "current" for current conditions, "forecast" for a future day or several days
- days_ahead: 0 = today, 1 = tomorrow and so on
- show_multiple_days: true when asking about the next days or the coming week`

// reminderSystemPrompt names today's date as seen in the client's location.
func (c *Client) reminderSystemPrompt(now time.Time) string {
	if c.loc != nil {
		now = now.In(c.loc)
	}
	return fmt.Sprintf(reminderPrompt, now.Format("2006-01-02"), now.Weekday())
}

// ExtractReminder asks the model for {title, date, time, notify}. Fields the
// model cannot fill come back empty.
func (c *Client) ExtractReminder(ctx context.Context, content string, now time.Time) (model.ReminderFields, error) {
	if strings.TrimSpace(content) == "" {
		return model.ReminderFields{}, fmt.Errorf("content cannot be empty")
	}

	raw, err := c.complete(ctx, completion{
		system:      c.reminderSystemPrompt(now),
		user:        content,
		temperature: 0,
		maxTokens:   200,
		timeout:     extractTimeout,
	})
	if err != nil {
		return model.ReminderFields{}, err
	}
	return ParseReminderFields(raw)
}

// ParseReminderFields reads the reminder JSON out of a model answer.
func ParseReminderFields(raw string) (model.ReminderFields, error) {
	doc := jsonObjectRe.FindString(raw)
	if doc == "" || !gjson.Valid(doc) {
		return model.ReminderFields{}, ErrMalformedOutput
	}

	parsed := gjson.Parse(doc)
	if t := parsed.Get("type").String(); t != "" && t != "reminder" {
		return model.ReminderFields{}, ErrNotReminder
	}

	data := parsed.Get("data")
	if !data.Exists() {
		data = parsed
	}
	return model.ReminderFields{
		Title:        field(data, "title"),
		Date:         field(data, "date"),
		Time:         field(data, "time"),
		NotifyOffset: field(data, "notify"),
	}, nil
}

// ExtractWeather turns a weather question into a WeatherQuery.
func (c *Client) ExtractWeather(ctx context.Context, content string) (model.WeatherQuery, error) {
	raw, err := c.complete(ctx, completion{
		system:      weatherPrompt,
		user:        content,
		temperature: 0,
		maxTokens:   80,
		timeout:     extractTimeout,
	})
	if err != nil {
		return model.WeatherQuery{}, err
	}
	return ParseWeatherQuery(raw)
}

// ParseWeatherQuery reads the weather JSON out of a model answer.
func ParseWeatherQuery(raw string) (model.WeatherQuery, error) {
	doc := jsonObjectRe.FindString(raw)
	if doc == "" || !gjson.Valid(doc) {
		return model.WeatherQuery{}, ErrMalformedOutput
	}
	parsed := gjson.Parse(doc)
	days := int(parsed.Get("days_ahead").Int())
	if days < 0 {
		days = 0
	}
	return model.WeatherQuery{
		City:      field(parsed, "city"),
		DaysAhead: days,
		Forecast:  parsed.Get("type").String() == "forecast",
		MultiDay:  parsed.Get("show_multiple_days").Bool(),
	}, nil
}

// Transcribe converts a voice note to text with Whisper.
func (c *Client) Transcribe(ctx context.Context, audio io.Reader, filename, contentType string) (string, error) {
	if !c.Enabled() {
		return "", ErrClientNotInitialised
	}

	ctx, cancel := context.WithTimeout(ctx, transcribeTimeout)
	defer cancel()

	resp, err := c.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:  openai.File(audio, filename, contentType),
		Model: openai.AudioModelWhisper1,
	})
	if err != nil {
		return "", fmt.Errorf("transcribe audio: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// field returns a trimmed string value, treating JSON null and the literal
// string "null" as empty.
func field(r gjson.Result, key string) string {
	v := r.Get(key)
	if !v.Exists() || v.Type == gjson.Null {
		return ""
	}
	s := strings.TrimSpace(v.String())
	if strings.EqualFold(s, "null") {
		return ""
	}
	return s
}
