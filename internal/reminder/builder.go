// Package reminder turns a conversation into a persisted reminder. It owns
// the clarification dialogue for missing fields and the notification time
// policy.
package reminder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pathakanu/memobot/internal/convo"
	"github.com/pathakanu/memobot/internal/metrics"
	"github.com/pathakanu/memobot/internal/model"
	"github.com/pathakanu/memobot/internal/temporal"
	"go.uber.org/zap"
)

// State is where a Handle call left the conversation.
type State string

const (
	StateAwaitingField State = "awaiting_field"
	StateComplete      State = "complete"
	StateAbandoned     State = "abandoned"
	StateFailed        State = "failed"
)

// Replies that do not depend on the draft.
const (
	ReplyNotUnderstood = "Sorry, I couldn't understand that reminder. Try something like \"remind me tomorrow at 10am to call the dentist\"."
	ReplyNoTitle       = "I couldn't tell what you want to be reminded about. Please send the reminder again."
	ReplyCancelled     = "Okay, I dropped that reminder."
)

// Outcome is the result of one conversational turn.
type Outcome struct {
	State    State
	Reply    string
	Reminder *model.Reminder
	Awaiting convo.Field
}

// Extractor pulls reminder fields out of free text.
type Extractor interface {
	ExtractReminder(ctx context.Context, text string, now time.Time) (model.ReminderFields, error)
}

// Creator persists a finished reminder and returns its ID.
type Creator interface {
	Create(ctx context.Context, r *model.Reminder) (string, error)
}

// Options tune the notification policy. Zero values fall back to the
// defaults in DefaultOptions.
type Options struct {
	// DefaultLead is subtracted from the event time when the user gave no
	// notification preference and AskForOffset is false.
	DefaultLead time.Duration
	// AskForOffset makes a missing preference a clarification turn.
	AskForOffset bool
	// NearMissBuffer is added to now when the notification time has already passed.
	NearMissBuffer time.Duration
	DraftTTL       time.Duration

	Clock   clockwork.Clock
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		DefaultLead:    30 * time.Minute,
		NearMissBuffer: time.Minute,
		DraftTTL:       10 * time.Minute,
	}
}

// Builder drives a reminder draft from the first message to persistence.
type Builder struct {
	extractor Extractor
	creator   Creator
	drafts    convo.Store
	resolver  *temporal.Resolver
	opts      Options
	clock     clockwork.Clock
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// New returns a Builder.
func New(extractor Extractor, creator Creator, drafts convo.Store, resolver *temporal.Resolver, opts Options) *Builder {
	def := DefaultOptions()
	if opts.DefaultLead <= 0 {
		opts.DefaultLead = def.DefaultLead
	}
	if opts.NearMissBuffer <= 0 {
		opts.NearMissBuffer = def.NearMissBuffer
	}
	if opts.DraftTTL <= 0 {
		opts.DraftTTL = def.DraftTTL
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNop()
	}
	return &Builder{
		extractor: extractor,
		creator:   creator,
		drafts:    drafts,
		resolver:  resolver,
		opts:      opts,
		clock:     opts.Clock,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}
}

// HasDraft reports whether owner is in the middle of a reminder dialogue.
func (b *Builder) HasDraft(owner string) bool {
	d, ok := b.drafts.Get(owner)
	return ok && d.Kind == convo.KindReminder
}

// Handle processes one message. With a live draft the message is taken as
// the answer to the awaited field and nothing is extracted. The returned
// error is reserved for storage failures; every other problem is expressed
// in the Outcome.
func (b *Builder) Handle(ctx context.Context, owner, text string) (Outcome, error) {
	now := b.clock.Now()

	if d, ok := b.drafts.Get(owner); ok && d.Kind == convo.KindReminder {
		if isCancel(text) {
			b.drafts.Clear(owner)
			return Outcome{State: StateAbandoned, Reply: ReplyCancelled}, nil
		}
		return b.advance(ctx, b.answer(d, text, now), now)
	}

	fields, err := b.extractor.ExtractReminder(ctx, text, now)
	if err != nil {
		b.logger.Warn("reminder extraction failed", zap.String("owner", owner), zap.Error(err))
		return Outcome{State: StateFailed, Reply: ReplyNotUnderstood}, nil
	}

	d := convo.Draft{
		Owner:        owner,
		Kind:         convo.KindReminder,
		Title:        strings.TrimSpace(fields.Title),
		Date:         strings.TrimSpace(fields.Date),
		Time:         strings.TrimSpace(fields.Time),
		NotifyOffset: strings.TrimSpace(fields.NotifyOffset),
		CreatedAt:    now,
	}
	if d.Title == "" {
		return Outcome{State: StateFailed, Reply: ReplyNoTitle}, nil
	}
	return b.advance(ctx, d, now)
}

// answer merges a clarification reply into the field the draft waits for.
func (b *Builder) answer(d convo.Draft, text string, now time.Time) convo.Draft {
	text = strings.TrimSpace(text)
	switch d.Awaiting {
	case convo.FieldDate:
		if _, err := b.resolver.ResolveDate(text, now); err != nil {
			// A bare time of day fills the time and the date is asked again.
			if _, _, err := temporal.ResolveClock(text); err == nil {
				d.Time = text
				break
			}
			d.Date = text
			break
		}
		d.Date = text
		// A time given together with the new day replaces the old one.
		if _, _, err := temporal.ResolveClock(text); err == nil {
			d.Time = ""
		}
	case convo.FieldTime:
		d.Time = text
	case convo.FieldNotifyOffset:
		d.NotifyOffset = text
	}
	d.Awaiting = convo.FieldNone
	return d
}

func (b *Builder) advance(ctx context.Context, d convo.Draft, now time.Time) (Outcome, error) {
	if _, err := b.resolver.ResolveDate(d.Date, now); err != nil {
		return b.ask(d, convo.FieldDate, fmt.Sprintf("What day is %q? For example \"tomorrow\", \"in 3 days\" or \"2025-03-14\".", d.Title)), nil
	}
	if d.Time != "" {
		if _, _, err := temporal.ResolveClock(d.Time); err != nil {
			return b.ask(d, convo.FieldTime, fmt.Sprintf("What time is %q? For example \"10:30\" or \"3pm\".", d.Title)), nil
		}
	}

	eventAt, err := b.resolver.ResolveParts(d.Date, d.Time, now)
	if err != nil {
		return b.ask(d, convo.FieldDate, fmt.Sprintf("What day is %q?", d.Title)), nil
	}
	if eventAt.Before(now) {
		d.Date = ""
		return b.ask(d, convo.FieldDate, fmt.Sprintf("That time has already passed. What day should I use for %q?", d.Title)), nil
	}

	var notifyAt time.Time
	switch {
	case d.NotifyOffset == "" && b.opts.AskForOffset:
		return b.ask(d, convo.FieldNotifyOffset, "How long before should I remind you? For example \"30 minutes before\" or \"2 hours before\"."), nil
	case d.NotifyOffset == "":
		notifyAt = eventAt.Add(-b.opts.DefaultLead)
	default:
		t, ok := b.resolveNotify(d.NotifyOffset, eventAt, now)
		if !ok {
			return b.ask(d, convo.FieldNotifyOffset, "I didn't get when to remind you. Try \"30 minutes before\" or \"2 hours before\"."), nil
		}
		notifyAt = t
	}

	if !notifyAt.After(now) {
		notifyAt = now.Add(b.opts.NearMissBuffer)
		b.metrics.NotifyClamped.Inc()
	}

	return b.complete(ctx, d, eventAt, notifyAt)
}

// resolveNotify reads the notification preference as a lead ("2 hours
// before"), an absolute expression ("tomorrow at 8am"), or a bare clock time
// on the day of the event.
func (b *Builder) resolveNotify(expr string, eventAt, now time.Time) (time.Time, bool) {
	if lead, ok := ParseLead(expr); ok {
		return eventAt.Add(-lead), true
	}
	if t, err := b.resolver.Resolve(expr, now); err == nil {
		return t, true
	}
	if hour, minute, err := temporal.ResolveClock(expr); err == nil {
		day := eventAt.In(b.resolver.Location())
		return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location()), true
	}
	return time.Time{}, false
}

func (b *Builder) complete(ctx context.Context, d convo.Draft, eventAt, notifyAt time.Time) (Outcome, error) {
	r := &model.Reminder{
		Owner:    d.Owner,
		Title:    d.Title,
		Emoji:    EmojiFor(d.Title),
		EventAt:  eventAt,
		NotifyAt: notifyAt,
	}

	_, err := b.creator.Create(ctx, r)
	b.drafts.Clear(d.Owner)
	if err != nil {
		return Outcome{State: StateFailed}, fmt.Errorf("persist reminder: %w", err)
	}

	b.metrics.RemindersCreated.Inc()
	b.logger.Info("reminder created",
		zap.String("owner", r.Owner),
		zap.String("id", r.ID),
		zap.Time("event_at", r.EventAt),
		zap.Time("notify_at", r.NotifyAt))

	return Outcome{
		State:    StateComplete,
		Reply:    RenderConfirmation(*r, b.resolver.Location()),
		Reminder: r,
	}, nil
}

func (b *Builder) ask(d convo.Draft, field convo.Field, reply string) Outcome {
	d.Awaiting = field
	b.drafts.Put(d.Owner, d, b.opts.DraftTTL)
	b.metrics.Clarifications.WithLabelValues(string(field)).Inc()
	return Outcome{State: StateAwaitingField, Reply: reply, Awaiting: field}
}

var cancelWords = map[string]bool{
	"cancel":     true,
	"stop":       true,
	"never mind": true,
	"nevermind":  true,
	"forget it":  true,
}

func isCancel(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.TrimRight(t, ".!")
	return cancelWords[strings.Join(strings.Fields(t), " ")]
}
