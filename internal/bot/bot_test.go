package bot

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pathakanu/memobot/internal/config"
	"github.com/pathakanu/memobot/internal/convo"
	"github.com/pathakanu/memobot/internal/database"
	"github.com/pathakanu/memobot/internal/intent"
	"github.com/pathakanu/memobot/internal/metrics"
	"github.com/pathakanu/memobot/internal/model"
	"github.com/pathakanu/memobot/internal/reminder"
	"github.com/pathakanu/memobot/internal/store"
	"github.com/pathakanu/memobot/internal/temporal"
	"github.com/pathakanu/memobot/internal/weather"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const owner = "+5491100000000"

var monday = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

type fakeAssistant struct {
	mu         sync.Mutex
	label      string
	fields     model.ReminderFields
	weather    map[string]model.WeatherQuery
	reply      string
	replyErr   error
	transcript string
	heard      []byte
}

func (f *fakeAssistant) ClassifyIntent(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.label, nil
}

func (f *fakeAssistant) ExtractReminder(context.Context, string, time.Time) (model.ReminderFields, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fields, nil
}

func (f *fakeAssistant) ExtractWeather(_ context.Context, text string) (model.WeatherQuery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.weather[text]
	if !ok {
		return model.WeatherQuery{}, errors.New("no weather question")
	}
	return q, nil
}

func (f *fakeAssistant) Reply(context.Context, string) (string, error) {
	return f.reply, f.replyErr
}

func (f *fakeAssistant) Transcribe(_ context.Context, audio io.Reader, _, _ string) (string, error) {
	data, err := io.ReadAll(audio)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heard = data
	return f.transcript, nil
}

type fakeForecaster struct {
	mu      sync.Mutex
	queries []model.WeatherQuery
}

func (f *fakeForecaster) Answer(_ context.Context, q model.WeatherQuery) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if q.City == "Atlantis" {
		return "", weather.ErrCityNotFound
	}
	return "weather for " + q.City, nil
}

type sentMessage struct {
	to   string
	body string
}

type fakeMessenger struct {
	mu       sync.Mutex
	sent     []sentMessage
	media    []byte
	validSig string
}

func (f *fakeMessenger) Send(_ context.Context, to, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{to: to, body: body})
	return nil
}

func (f *fakeMessenger) DownloadMedia(context.Context, string) ([]byte, string, error) {
	if f.media == nil {
		return nil, "", errors.New("media gone")
	}
	return f.media, "audio/ogg", nil
}

func (f *fakeMessenger) ValidateRequest(_ string, _ map[string]string, signature string) bool {
	return signature != "" && signature == f.validSig
}

func (f *fakeMessenger) Sent() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

type testBot struct {
	*Bot
	reminders *store.ReminderStore
	sessions  *store.SessionStore
	assistant *fakeAssistant
	weather   *fakeForecaster
	messenger *fakeMessenger
	clock     *clockwork.FakeClock
}

func newTestBot(t *testing.T, tune func(*config.Config)) *testBot {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "bot.db")), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.Migrate(db))

	cfg := &config.Config{
		LocalTimezone:  time.UTC,
		DraftTTL:       10 * time.Minute,
		TopicTTL:       15 * time.Minute,
		ProcessTimeout: 5 * time.Second,
	}
	if tune != nil {
		tune(cfg)
	}

	clock := clockwork.NewFakeClockAt(monday)
	drafts := convo.NewMemoryStore(clock)
	tb := &testBot{
		reminders: store.NewReminderStore(db),
		sessions:  store.NewSessionStore(db),
		assistant: &fakeAssistant{weather: map[string]model.WeatherQuery{}},
		weather:   &fakeForecaster{},
		messenger: &fakeMessenger{},
		clock:     clock,
	}

	opts := reminder.DefaultOptions()
	opts.Clock = clock
	opts.Logger = zap.NewNop()
	builder := reminder.New(tb.assistant, tb.reminders, drafts, temporal.New(time.UTC), opts)

	tb.Bot = New(cfg, Deps{
		Reminders:  tb.reminders,
		Sessions:   tb.sessions,
		Drafts:     drafts,
		Builder:    builder,
		Classifier: intent.NewClassifier(tb.assistant, zap.NewNop(), metrics.NewNop()),
		Assistant:  tb.assistant,
		Weather:    tb.weather,
		Messenger:  tb.messenger,
		Clock:      clock,
		Logger:     zap.NewNop(),
	})
	return tb
}

func (tb *testBot) onboarded(t *testing.T, name string) {
	t.Helper()
	ctx := context.Background()
	_, err := tb.sessions.Create(ctx, owner)
	require.NoError(t, err)
	require.NoError(t, tb.sessions.CompleteOnboarding(ctx, owner, name))
}

func (tb *testBot) say(text string) string {
	return tb.Process(context.Background(), Inbound{Owner: owner, Body: text})
}

func seedReminders(t *testing.T, tb *testBot, titles ...string) {
	t.Helper()
	for i, title := range titles {
		_, err := tb.reminders.Create(context.Background(), &model.Reminder{
			Owner:    owner,
			Title:    title,
			EventAt:  monday.Add(time.Duration(i+2) * time.Hour),
			NotifyAt: monday.Add(time.Duration(i+1) * time.Hour),
		})
		require.NoError(t, err)
	}
}

func TestOnboardingAsksForNameFirst(t *testing.T) {
	t.Parallel()
	tb := newTestBot(t, nil)

	reply := tb.say("remind me to water the plants")
	assert.Contains(t, reply, "What's your name?")

	reply = tb.say("   ")
	assert.Empty(t, reply)

	reply = tb.say("my name is ana maría")
	assert.True(t, strings.HasPrefix(reply, "🌟 Nice to meet you, Ana María!"), reply)

	session, err := tb.sessions.Get(context.Background(), owner)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.True(t, session.OnboardingComplete)
	assert.Equal(t, "Ana María", session.DisplayName)

	assert.Equal(t, "Hi Ana María! How can I help you today?", tb.say("hello!"))
}

func TestReminderClarificationFlow(t *testing.T) {
	t.Parallel()
	tb := newTestBot(t, nil)
	tb.onboarded(t, "Ana")
	tb.assistant.label = "reminder"
	tb.assistant.fields = model.ReminderFields{Title: "call the dentist", Time: "15:00"}

	reply := tb.say("remind me to call the dentist at 3pm")
	assert.Contains(t, reply, "What day is")

	// The answer goes to the draft, not to the classifier.
	tb.assistant.label = "chat"
	reply = tb.say("2025-03-11")
	assert.Contains(t, reply, "Reminder created")

	pending, err := tb.reminders.ListPending(context.Background(), owner)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "call the dentist", pending[0].Title)
	assert.True(t, pending[0].EventAt.Equal(time.Date(2025, 3, 11, 15, 0, 0, 0, time.UTC)))
	assert.True(t, pending[0].NotifyAt.Equal(time.Date(2025, 3, 11, 14, 30, 0, 0, time.UTC)))

	session, err := tb.sessions.Get(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, model.TopicReminder, session.LastTopic)
}

func TestListAndDeleteReminders(t *testing.T) {
	t.Parallel()
	tb := newTestBot(t, nil)
	tb.onboarded(t, "Ana")

	assert.Equal(t, "You have no reminders yet. Send me one to get started!", tb.say("list reminders"))

	seedReminders(t, tb, "pay rent", "buy milk", "call mom")

	list := tb.say("Show my reminders")
	assert.Contains(t, list, "1. 📅 pay rent")
	assert.Contains(t, list, "2. 📅 buy milk")
	assert.Contains(t, list, "3. 📅 call mom")

	assert.Equal(t, "Deleted reminders matching 'milk'.", tb.say("delete reminder about milk"))
	assert.Equal(t, "I couldn't find a pending reminder matching 'milk'.", tb.say("delete reminder about milk"))
	assert.Contains(t, tb.say("delete reminder"), "Tell me which reminder")

	pending, err := tb.reminders.ListPending(context.Background(), owner)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	assert.Equal(t, "All reminders cleared.", tb.say("clear all reminders"))
	assert.Equal(t, "You have no pending reminders.", tb.say("clear reminders"))
}

func TestWeatherAsksForCityThenFollowsUp(t *testing.T) {
	t.Parallel()
	tb := newTestBot(t, nil)
	tb.onboarded(t, "Ana")
	tb.assistant.label = "weather"
	tb.assistant.weather["will it rain tomorrow?"] = model.WeatherQuery{Forecast: true, DaysAhead: 1}
	tb.assistant.weather["and the day after?"] = model.WeatherQuery{Forecast: true, DaysAhead: 2}

	assert.Equal(t, "Which city do you want the weather for?", tb.say("will it rain tomorrow?"))
	assert.Equal(t, "weather for Madrid", tb.say("Madrid."))

	tb.clock.Advance(5 * time.Minute)
	tb.assistant.label = "chat"
	assert.Equal(t, "weather for Madrid", tb.say("and the day after?"))

	require.Len(t, tb.weather.queries, 2)
	assert.Equal(t, model.WeatherQuery{City: "Madrid", Forecast: true, DaysAhead: 1}, tb.weather.queries[0])
	assert.Equal(t, model.WeatherQuery{City: "Madrid", Forecast: true, DaysAhead: 2}, tb.weather.queries[1])
}

func TestWeatherTopicExpires(t *testing.T) {
	t.Parallel()
	tb := newTestBot(t, nil)
	tb.onboarded(t, "Ana")
	tb.assistant.label = "weather"
	tb.assistant.weather["weather in Lima"] = model.WeatherQuery{City: "Lima"}
	tb.assistant.weather["and tomorrow?"] = model.WeatherQuery{Forecast: true, DaysAhead: 1}

	assert.Equal(t, "weather for Lima", tb.say("weather in Lima"))

	tb.clock.Advance(time.Hour)
	assert.Equal(t, "Which city do you want the weather for?", tb.say("and tomorrow?"))
}

func TestWeatherUnknownCity(t *testing.T) {
	t.Parallel()
	tb := newTestBot(t, nil)
	tb.onboarded(t, "Ana")
	tb.assistant.label = "weather"
	tb.assistant.weather["weather in Atlantis"] = model.WeatherQuery{City: "Atlantis"}

	assert.Equal(t, `I couldn't find the city "Atlantis".`, tb.say("weather in Atlantis"))
}

func TestChatFallback(t *testing.T) {
	t.Parallel()
	tb := newTestBot(t, nil)
	tb.onboarded(t, "Ana")
	tb.assistant.label = "something odd"
	tb.assistant.reply = "Paris is the capital of France."

	assert.Equal(t, "Paris is the capital of France.", tb.say("capital of france?"))

	tb.assistant.reply = ""
	tb.assistant.replyErr = errors.New("upstream down")
	assert.Contains(t, tb.say("capital of spain?"), "I can set reminders")
}

func TestVoiceNoteIsTranscribed(t *testing.T) {
	t.Parallel()
	tb := newTestBot(t, nil)
	tb.onboarded(t, "Ana")
	tb.messenger.media = []byte("OggS")
	tb.assistant.transcript = "help"

	reply := tb.Process(context.Background(), Inbound{Owner: owner, MediaURL: "https://media/1", MediaType: "audio/ogg"})
	assert.Equal(t, helpResponse(), reply)
	assert.Equal(t, []byte("OggS"), tb.assistant.heard)

	tb.messenger.media = nil
	reply = tb.Process(context.Background(), Inbound{Owner: owner, MediaURL: "https://media/2", MediaType: "audio/ogg"})
	assert.Contains(t, reply, "couldn't process your voice note")

	reply = tb.Process(context.Background(), Inbound{Owner: owner, MediaURL: "https://media/3", MediaType: "image/jpeg"})
	assert.Contains(t, reply, "only read text messages and voice notes")
}

func postForm(t *testing.T, h http.Handler, form url.Values, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/twilio/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if signature != "" {
		req.Header.Set("X-Twilio-Signature", signature)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebhookAcknowledgesAndRepliesAsync(t *testing.T) {
	t.Parallel()
	tb := newTestBot(t, nil)
	tb.onboarded(t, "Ana")

	rec := postForm(t, tb.Handler(), url.Values{"From": {"whatsapp:" + owner}, "Body": {"help"}}, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/xml", rec.Header().Get("Content-Type"))
	assert.Equal(t, "<Response></Response>", rec.Body.String())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tb.Shutdown(ctx))

	sent := tb.messenger.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, owner, sent[0].to)
	assert.Equal(t, helpResponse(), sent[0].body)
}

func TestWebhookRejectsBadRequests(t *testing.T) {
	t.Parallel()
	tb := newTestBot(t, func(cfg *config.Config) {
		cfg.TwilioValidateSignature = true
		cfg.WebhookPublicURL = "https://example.test/twilio/webhook"
	})
	tb.messenger.validSig = "good"
	form := url.Values{"From": {"whatsapp:" + owner}, "Body": {"hi"}}

	rec := httptest.NewRecorder()
	tb.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/twilio/webhook", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	assert.Equal(t, http.StatusForbidden, postForm(t, tb.Handler(), form, "").Code)
	assert.Equal(t, http.StatusForbidden, postForm(t, tb.Handler(), form, "forged").Code)
	assert.Equal(t, http.StatusOK, postForm(t, tb.Handler(), form, "good").Code)

	require.NoError(t, tb.Shutdown(context.Background()))
}

func TestWebhookRateLimitsSender(t *testing.T) {
	t.Parallel()
	tb := newTestBot(t, func(cfg *config.Config) { cfg.InboundRatePerMinute = 2 })
	tb.onboarded(t, "Ana")
	form := url.Values{"From": {"whatsapp:" + owner}, "Body": {"help"}}

	assert.Equal(t, "<Response></Response>", postForm(t, tb.Handler(), form, "").Body.String())
	assert.Equal(t, "<Response></Response>", postForm(t, tb.Handler(), form, "").Body.String())
	assert.Contains(t, postForm(t, tb.Handler(), form, "").Body.String(), "sending messages too quickly")

	require.NoError(t, tb.Shutdown(context.Background()))
	assert.Len(t, tb.messenger.Sent(), 2)
}

func TestExtractDeleteKeyword(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		keyword string
		ok      bool
	}{
		"delete reminder about milk":   {"milk", true},
		"Remove reminders for the gym": {"the gym", true},
		"delete reminder":              {"", true},
		"cancel reminder 'rent'":       {"rent", true},
		"remind me to delete photos":   {"", false},
		"list reminders":               {"", false},
	}

	for input, want := range cases {
		keyword, ok := extractDeleteKeyword(input)
		assert.Equal(t, want.ok, ok, input)
		assert.Equal(t, want.keyword, keyword, input)
	}
}

func TestExtractName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Ana", extractName("ana"))
	assert.Equal(t, "Juan Pablo", extractName("I'm juan pablo."))
	assert.Equal(t, "Émile", extractName("call me émile"))
	assert.Empty(t, extractName("  "))
	assert.Empty(t, extractName("this is a very long sentence indeed"))
}

func TestOwnerLocksSerialise(t *testing.T) {
	t.Parallel()
	locks := newOwnerLocks()

	unlock := locks.Lock(owner)
	acquired := make(chan struct{})
	go func() {
		release := locks.Lock(owner)
		close(acquired)
		release()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while the first was held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lock never acquired")
	}

	// A different owner is never blocked.
	locks.Lock("other")()
}
