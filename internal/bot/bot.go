package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pathakanu/memobot/internal/config"
	"github.com/pathakanu/memobot/internal/convo"
	"github.com/pathakanu/memobot/internal/intent"
	"github.com/pathakanu/memobot/internal/metrics"
	"github.com/pathakanu/memobot/internal/model"
	"github.com/pathakanu/memobot/internal/reminder"
	"github.com/pathakanu/memobot/internal/weather"
	"go.uber.org/zap"
)

// Reminders is the part of the reminder store used by the chat commands.
type Reminders interface {
	ListPending(ctx context.Context, owner string) ([]model.Reminder, error)
	DeletePending(ctx context.Context, owner, keyword string) (int64, error)
}

// Sessions persists onboarding state and topic memory.
type Sessions interface {
	Get(ctx context.Context, owner string) (*model.UserSession, error)
	Create(ctx context.Context, owner string) (*model.UserSession, error)
	CompleteOnboarding(ctx context.Context, owner, name string) error
	RememberTopic(ctx context.Context, owner, topic, entity string, at time.Time) error
}

// Assistant is the language model surface outside reminder extraction.
type Assistant interface {
	ExtractWeather(ctx context.Context, text string) (model.WeatherQuery, error)
	Reply(ctx context.Context, text string) (string, error)
	Transcribe(ctx context.Context, audio io.Reader, filename, contentType string) (string, error)
}

// Forecaster answers a structured weather question.
type Forecaster interface {
	Answer(ctx context.Context, q model.WeatherQuery) (string, error)
}

// Messenger is the WhatsApp side: outbound replies, inbound media and
// webhook signatures.
type Messenger interface {
	Send(ctx context.Context, to, body string) error
	DownloadMedia(ctx context.Context, mediaURL string) ([]byte, string, error)
	ValidateRequest(url string, params map[string]string, signature string) bool
}

// Deps are the collaborators a Bot routes between.
type Deps struct {
	Reminders  Reminders
	Sessions   Sessions
	Drafts     convo.Store
	Builder    *reminder.Builder
	Classifier *intent.Classifier
	Assistant  Assistant
	Weather    Forecaster
	Messenger  Messenger
	Clock      clockwork.Clock
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

// Inbound is one WhatsApp message as received from the webhook.
type Inbound struct {
	Owner     string
	Body      string
	MediaURL  string
	MediaType string
}

// Bot routes inbound messages to reminders, weather, commands or chat.
type Bot struct {
	cfg        *config.Config
	reminders  Reminders
	sessions   Sessions
	drafts     convo.Store
	builder    *reminder.Builder
	classifier *intent.Classifier
	assistant  Assistant
	weather    Forecaster
	messenger  Messenger
	clock      clockwork.Clock
	logger     *zap.Logger
	metrics    *metrics.Metrics

	limiter *senderLimiter
	locks   *ownerLocks

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a fully configured Bot instance.
func New(cfg *config.Config, deps Deps) *Bot {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNop()
	}
	if cfg.LocalTimezone == nil {
		cfg.LocalTimezone = time.Local
	}

	ctx, stop := context.WithCancel(context.Background())
	return &Bot{
		cfg:        cfg,
		reminders:  deps.Reminders,
		sessions:   deps.Sessions,
		drafts:     deps.Drafts,
		builder:    deps.Builder,
		classifier: deps.Classifier,
		assistant:  deps.Assistant,
		weather:    deps.Weather,
		messenger:  deps.Messenger,
		clock:      deps.Clock,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
		limiter:    newSenderLimiter(cfg.InboundRatePerMinute),
		locks:      newOwnerLocks(),
		baseCtx:    ctx,
		stop:       stop,
	}
}

// dispatch processes msg in the background and sends the reply through the
// messenger. Messages from the same owner are handled one at a time.
func (b *Bot) dispatch(msg Inbound) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		timeout := b.cfg.ProcessTimeout
		if timeout <= 0 {
			timeout = time.Minute
		}
		ctx, cancel := context.WithTimeout(b.baseCtx, timeout)
		defer cancel()

		unlock := b.locks.Lock(msg.Owner)
		defer unlock()

		reply := b.Process(ctx, msg)
		if reply == "" {
			return
		}
		if err := b.messenger.Send(ctx, msg.Owner, reply); err != nil {
			b.logger.Error("send reply", zap.String("owner", msg.Owner), zap.Error(err))
		}
	}()
}

// Shutdown waits for in-flight messages, then cancels whatever is left once
// ctx expires.
func (b *Bot) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.stop()
		return nil
	case <-ctx.Done():
		b.stop()
		return ctx.Err()
	}
}

// Process handles one message and returns the reply text. An empty reply
// means nothing should be sent.
func (b *Bot) Process(ctx context.Context, msg Inbound) string {
	text := strings.TrimSpace(msg.Body)
	if msg.MediaURL != "" {
		if !isAudio(msg.MediaType) {
			if text == "" {
				return "For now I can only read text messages and voice notes."
			}
		} else {
			transcript, err := b.transcribe(ctx, msg)
			if err != nil {
				b.logger.Warn("voice note", zap.String("owner", msg.Owner), zap.Error(err))
				return "Sorry, I couldn't process your voice note. Please try again or send a text."
			}
			text = transcript
		}
	}
	if text == "" {
		return ""
	}

	session, reply, done := b.onboard(ctx, msg.Owner, text)
	if done {
		b.metrics.InboundMessages.WithLabelValues("onboarding").Inc()
		return reply
	}

	if d, ok := b.drafts.Get(msg.Owner); ok {
		b.metrics.InboundMessages.WithLabelValues("clarification").Inc()
		switch d.Kind {
		case convo.KindWeather:
			return b.answerCity(ctx, msg.Owner, d, text)
		default:
			return b.handleReminder(ctx, msg.Owner, text)
		}
	}

	if reply, ok := b.command(ctx, msg.Owner, text, session); ok {
		b.metrics.InboundMessages.WithLabelValues("command").Inc()
		return reply
	}

	if isFollowUp(text) {
		if topic, _, ok := session.FreshTopic(b.clock.Now(), b.cfg.TopicTTL); ok && topic == model.TopicWeather {
			b.metrics.InboundMessages.WithLabelValues(string(intent.Weather)).Inc()
			return b.handleWeather(ctx, msg.Owner, text, session)
		}
	}

	label := b.classifier.Classify(ctx, text)
	b.metrics.InboundMessages.WithLabelValues(string(label)).Inc()
	b.logger.Debug("message classified", zap.String("owner", msg.Owner), zap.String("intent", string(label)))

	switch label {
	case intent.Reminder:
		return b.handleReminder(ctx, msg.Owner, text)
	case intent.Weather:
		return b.handleWeather(ctx, msg.Owner, text, session)
	default:
		return b.chat(ctx, msg.Owner, text)
	}
}

// onboard creates the session on first contact and collects the display
// name. done is true when the message was consumed by onboarding.
func (b *Bot) onboard(ctx context.Context, owner, text string) (*model.UserSession, string, bool) {
	session, err := b.sessions.Get(ctx, owner)
	if err != nil {
		// A broken session table must not block reminders.
		b.logger.Error("load session", zap.String("owner", owner), zap.Error(err))
		return nil, "", false
	}

	if session == nil {
		if _, err := b.sessions.Create(ctx, owner); err != nil {
			b.logger.Error("create session", zap.String("owner", owner), zap.Error(err))
			return nil, "", false
		}
		return nil, "👋 Hi! I'm your reminder assistant. What's your name?", true
	}
	if session.OnboardingComplete {
		return session, "", false
	}

	name := extractName(text)
	if name == "" {
		return session, "Please tell me your name to continue.", true
	}
	if err := b.sessions.CompleteOnboarding(ctx, owner, name); err != nil {
		b.logger.Error("complete onboarding", zap.String("owner", owner), zap.Error(err))
		return session, "Sorry, something went wrong. Please send your name again.", true
	}
	return session, fmt.Sprintf("🌟 Nice to meet you, %s!\n\n%s", name, helpResponse()), true
}

func (b *Bot) handleReminder(ctx context.Context, owner, text string) string {
	out, err := b.builder.Handle(ctx, owner, text)
	if err != nil {
		b.logger.Error("save reminder", zap.String("owner", owner), zap.Error(err))
		return "Sorry, I couldn't save your reminder. Please try again later."
	}
	if out.State == reminder.StateComplete && out.Reminder != nil {
		b.rememberTopic(ctx, owner, model.TopicReminder, out.Reminder.Title)
	}
	return out.Reply
}

func (b *Bot) handleWeather(ctx context.Context, owner, text string, session *model.UserSession) string {
	q, err := b.assistant.ExtractWeather(ctx, text)
	if err != nil {
		b.logger.Warn("weather extraction", zap.String("owner", owner), zap.Error(err))
		return "Sorry, I couldn't understand your weather question."
	}

	if q.City == "" {
		if topic, entity, ok := session.FreshTopic(b.clock.Now(), b.cfg.TopicTTL); ok && topic == model.TopicWeather {
			q.City = entity
		}
	}
	if q.City == "" {
		b.drafts.Put(owner, convo.Draft{
			Owner:     owner,
			Kind:      convo.KindWeather,
			Query:     text,
			Awaiting:  convo.FieldCity,
			CreatedAt: b.clock.Now(),
		}, b.cfg.DraftTTL)
		b.metrics.Clarifications.WithLabelValues(string(convo.FieldCity)).Inc()
		return "Which city do you want the weather for?"
	}
	return b.answerWeather(ctx, owner, q)
}

// answerCity completes a weather draft with the city the user just sent.
func (b *Bot) answerCity(ctx context.Context, owner string, d convo.Draft, text string) string {
	b.drafts.Clear(owner)

	q, err := b.assistant.ExtractWeather(ctx, d.Query)
	if err != nil {
		q = model.WeatherQuery{}
	}
	q.City = strings.Trim(strings.TrimSpace(text), ".!?")
	return b.answerWeather(ctx, owner, q)
}

func (b *Bot) answerWeather(ctx context.Context, owner string, q model.WeatherQuery) string {
	msg, err := b.weather.Answer(ctx, q)
	switch {
	case errors.Is(err, weather.ErrCityNotFound):
		return fmt.Sprintf("I couldn't find the city %q.", q.City)
	case err != nil:
		b.logger.Warn("weather lookup", zap.String("owner", owner), zap.String("city", q.City), zap.Error(err))
		return "I couldn't get the weather right now. Please try again later."
	}
	b.rememberTopic(ctx, owner, model.TopicWeather, q.City)
	return msg
}

func (b *Bot) chat(ctx context.Context, owner, text string) string {
	reply, err := b.assistant.Reply(ctx, text)
	if err != nil || reply == "" {
		b.logger.Warn("chat reply", zap.String("owner", owner), zap.Error(err))
		return "Sorry, I can't answer that right now. I can set reminders and check the weather for you."
	}
	b.rememberTopic(ctx, owner, model.TopicChat, "")
	return reply
}

func (b *Bot) rememberTopic(ctx context.Context, owner, topic, entity string) {
	if err := b.sessions.RememberTopic(ctx, owner, topic, entity, b.clock.Now()); err != nil {
		b.logger.Warn("remember topic", zap.String("owner", owner), zap.Error(err))
	}
}

func (b *Bot) transcribe(ctx context.Context, msg Inbound) (string, error) {
	data, contentType, err := b.messenger.DownloadMedia(ctx, msg.MediaURL)
	if err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = msg.MediaType
	}

	text, err := b.assistant.Transcribe(ctx, bytes.NewReader(data), audioFilename(contentType), contentType)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("empty transcription")
	}
	b.logger.Debug("voice note transcribed", zap.String("owner", msg.Owner), zap.Int("chars", len(text)))
	return text, nil
}

func isAudio(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(contentType), "audio/")
}

func audioFilename(contentType string) string {
	ct := strings.ToLower(contentType)
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch ct {
	case "audio/mpeg", "audio/mp3":
		return "voice.mp3"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return "voice.m4a"
	case "audio/wav", "audio/x-wav":
		return "voice.wav"
	case "audio/webm":
		return "voice.webm"
	default:
		return "voice.ogg"
	}
}
