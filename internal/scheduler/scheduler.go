// Package scheduler delivers due reminders. A single cron entry polls the
// store on a fixed interval; there are no per-reminder timers, so a restart
// simply resumes with the next poll.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pathakanu/memobot/internal/metrics"
	"github.com/pathakanu/memobot/internal/model"
	"github.com/pathakanu/memobot/internal/reminder"
	"github.com/pathakanu/memobot/internal/store"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// PurgeSpec runs the retention purge every Sunday at 03:00.
const PurgeSpec = "0 3 * * 0"

// Store is the persistence the scheduler needs.
type Store interface {
	FindDueUnsent(ctx context.Context, at time.Time, window time.Duration) ([]model.Reminder, error)
	MarkSent(ctx context.Context, id string, at time.Time) (store.MarkResult, error)
	RecordFailure(ctx context.Context, id string) error
	PurgeSent(ctx context.Context, cutoff time.Time) (int64, error)
}

// Gateway sends a message to a WhatsApp number.
type Gateway interface {
	Send(ctx context.Context, to, body string) error
}

// Directory resolves an owner's display name for the greeting.
type Directory interface {
	DisplayName(ctx context.Context, owner string) string
}

// Options configure polling. Zero values take the defaults below.
type Options struct {
	PollInterval time.Duration // 1m
	Lookback     time.Duration // 72h
	Workers      int           // 4
	SendTimeout  time.Duration // 15s
	Retention    time.Duration // 720h
	Location     *time.Location
	Clock        clockwork.Clock
	Directory    Directory
}

func (o *Options) withDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = time.Minute
	}
	if o.Lookback <= 0 {
		o.Lookback = 72 * time.Hour
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 15 * time.Second
	}
	if o.Retention <= 0 {
		o.Retention = 30 * 24 * time.Hour
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
}

// PollResult summarises one poll cycle.
type PollResult struct {
	Due     int
	Sent    int
	Failed  int
	Skipped int
}

// Scheduler polls for due reminders and delivers them.
type Scheduler struct {
	store   Store
	gateway Gateway
	opts    Options
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

// New returns a stopped Scheduler.
func New(st Store, gateway Gateway, opts Options, logger *zap.Logger, m *metrics.Metrics) *Scheduler {
	opts.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Scheduler{
		store:   st,
		gateway: gateway,
		opts:    opts,
		logger:  logger,
		metrics: m,
	}
}

// Start runs one poll immediately, so reminders that fell due while the
// process was down go out without waiting a full interval, then registers
// the poll and purge jobs.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("scheduler already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	cronLogger := cron.PrintfLogger(zap.NewStdLog(s.logger))
	c := cron.New(
		cron.WithLocation(s.opts.Location),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.opts.PollInterval), func() { s.runPoll(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("register poll job: %w", err)
	}
	if _, err := c.AddFunc(PurgeSpec, func() { s.runPurge(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("register purge job: %w", err)
	}

	s.runPoll(runCtx)

	c.Start()
	s.cron = c
	s.cancel = cancel
	s.logger.Info("scheduler started",
		zap.Duration("interval", s.opts.PollInterval),
		zap.Duration("lookback", s.opts.Lookback),
		zap.Int("workers", s.opts.Workers))
	return nil
}

// Stop waits for running jobs to finish and stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cancel()
	s.cron = nil
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) runPoll(ctx context.Context) {
	res, err := s.Poll(ctx)
	if err != nil {
		s.logger.Error("poll failed", zap.Error(err))
		return
	}
	if res.Due > 0 {
		s.logger.Info("poll finished",
			zap.Int("due", res.Due),
			zap.Int("sent", res.Sent),
			zap.Int("failed", res.Failed),
			zap.Int("skipped", res.Skipped))
	}
}

func (s *Scheduler) runPurge(ctx context.Context) {
	n, err := s.Purge(ctx)
	if err != nil {
		s.logger.Error("retention purge failed", zap.Error(err))
		return
	}
	s.logger.Info("retention purge finished", zap.Int64("deleted", n))
}

type delivery int

const (
	delivered delivery = iota
	failed
	skipped
)

// Poll delivers every reminder due within the lookback window. A delivery
// failure leaves the reminder unsent for the next cycle; a storage failure
// aborts the cycle and is returned.
func (s *Scheduler) Poll(ctx context.Context) (PollResult, error) {
	started := time.Now()
	defer func() { s.metrics.PollDuration.Observe(time.Since(started).Seconds()) }()

	now := s.opts.Clock.Now()
	due, err := s.store.FindDueUnsent(ctx, now, s.opts.Lookback)
	if err != nil {
		return PollResult{}, err
	}
	s.metrics.DueReminders.Set(float64(len(due)))

	var sent, failures, skips atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for _, r := range due {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			outcome, err := s.deliver(gctx, r)
			switch outcome {
			case delivered:
				sent.Add(1)
			case failed:
				failures.Add(1)
			case skipped:
				skips.Add(1)
			}
			return err
		})
	}

	res := PollResult{Due: len(due)}
	err = g.Wait()
	res.Sent = int(sent.Load())
	res.Failed = int(failures.Load())
	res.Skipped = int(skips.Load())
	return res, err
}

func (s *Scheduler) deliver(ctx context.Context, r model.Reminder) (delivery, error) {
	var name string
	if s.opts.Directory != nil {
		name = s.opts.Directory.DisplayName(ctx, r.Owner)
	}
	body := reminder.RenderNotification(r, name, s.opts.Location)

	sendCtx, cancel := context.WithTimeout(ctx, s.opts.SendTimeout)
	err := s.gateway.Send(sendCtx, r.Owner, body)
	cancel()
	if err != nil {
		s.metrics.DeliveryFailures.Inc()
		s.logger.Warn("delivery failed",
			zap.String("id", r.ID),
			zap.String("owner", r.Owner),
			zap.Error(err))
		if err := s.store.RecordFailure(ctx, r.ID); err != nil {
			s.logger.Warn("record delivery failure", zap.String("id", r.ID), zap.Error(err))
		}
		return failed, nil
	}

	res, err := s.store.MarkSent(ctx, r.ID, s.opts.Clock.Now())
	if err != nil {
		return failed, err
	}
	switch res {
	case store.MarkedSent:
		s.metrics.DeliveriesSent.Inc()
		s.logger.Info("reminder delivered", zap.String("id", r.ID), zap.String("owner", r.Owner))
		return delivered, nil
	case store.AlreadySent:
		s.metrics.MarkSentConflicts.Inc()
		s.logger.Warn("reminder already marked sent by another poll", zap.String("id", r.ID))
		return skipped, nil
	default:
		s.logger.Warn("reminder vanished before it was marked sent", zap.String("id", r.ID))
		return skipped, nil
	}
}

// Purge deletes delivered reminders older than the retention period.
func (s *Scheduler) Purge(ctx context.Context) (int64, error) {
	cutoff := s.opts.Clock.Now().Add(-s.opts.Retention)
	return s.store.PurgeSent(ctx, cutoff)
}
