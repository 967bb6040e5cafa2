package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "osmwatch/pkg/logx"
)

type Service struct {
	src      Source
	st       Store
	notifier Notifier
	log      logx.Logger

	// runMu serializes cycles: the atomic read-then-write in UpsertTotals is
	// only meaningful when no second cycle can interleave for the same
	// account. Scheduled ticks TryLock and skip; Run() blocks.
	runMu sync.Mutex

	mu      sync.Mutex
	cfg     Config
	cron    *cron.Cron
	entry   cron.EntryID
	runCtx  context.Context
	started bool
}

func New(cfg Config, src Source, st Store, notifier Notifier, log logx.Logger) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, src: src, st: st, notifier: notifier, log: log}
}

// Start schedules the recurring watchdog. The first cycle runs FirstDelay
// after startup so a freshly restarted bot catches up quickly.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.runCtx = ctx

	s.cron = cron.New()
	s.entry = s.cron.Schedule(cron.Every(s.cfg.Interval), cron.FuncJob(func() { s.tick() }))
	s.cron.Start()

	first := s.cfg.FirstDelay
	if first > 0 {
		go func() {
			t := time.NewTimer(first)
			defer t.Stop()
			select {
			case <-ctx.Done():
			case <-t.C:
				s.tick()
			}
		}()
	}

	s.log.Info("watchdog scheduled",
		logx.Duration("interval", s.cfg.Interval), logx.Duration("first_delay", first))
}

func (s *Service) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.started = false
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// Apply reschedules the watchdog when the interval changed (config reload).
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.Workers <= 0 {
		cfg.Workers = s.cfg.Workers
	}
	old := s.cfg
	s.cfg = cfg
	if s.cron == nil || cfg.Interval == old.Interval {
		return
	}
	s.cron.Remove(s.entry)
	s.entry = s.cron.Schedule(cron.Every(cfg.Interval), cron.FuncJob(func() { s.tick() }))
	s.log.Info("watchdog rescheduled", logx.Duration("interval", cfg.Interval))
}

// tick is the scheduled entry point. If a cycle is still in flight the tick
// is skipped, never run concurrently.
func (s *Service) tick() {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	if !s.runMu.TryLock() {
		s.log.Warn("watch cycle still running; skipping scheduled tick")
		return
	}
	defer s.runMu.Unlock()

	if err := s.run(ctx, nil); err != nil {
		if errors.Is(err, context.Canceled) {
			// Normal during shutdown, not an operator problem.
			s.log.Debug("watch cycle cancelled")
			return
		}
		s.log.Error("watch cycle failed", logx.Err(err))
	}
}

// Run executes one cycle synchronously. With no accounts given it covers all
// tracked accounts; with a filter (fresh /follow, /report) only those. It
// waits for any in-flight cycle to finish first.
func (s *Service) Run(ctx context.Context, accounts ...string) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.run(ctx, accounts)
}

func (s *Service) run(ctx context.Context, accounts []string) error {
	start := time.Now()

	if len(accounts) == 0 {
		var err error
		accounts, err = s.st.TrackedAccounts(ctx)
		if err != nil {
			// Store trouble is fatal to the whole cycle; per-account writes
			// are atomic so nothing is half-updated.
			return fmt.Errorf("list tracked accounts: %w", err)
		}
	}
	if len(accounts) == 0 {
		s.log.Debug("watch cycle: nothing tracked")
		return nil
	}

	s.mu.Lock()
	workers := s.cfg.Workers
	s.mu.Unlock()
	if workers > len(accounts) {
		workers = len(accounts)
	}

	jobs := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for account := range jobs {
				s.processAccount(ctx, account)
			}
		}()
	}

feed:
	for _, account := range accounts {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- account:
		}
	}
	close(jobs)
	wg.Wait()

	s.log.Info("watch cycle done",
		logx.Int("accounts", len(accounts)), logx.Duration("took", time.Since(start)))
	return ctx.Err()
}

// processAccount handles one account end to end. Failures stay local: a dead
// API or a blocked recipient never aborts the rest of the cycle.
func (s *Service) processAccount(ctx context.Context, account string) {
	totals, err := s.src.Totals(ctx, account)
	if err != nil {
		s.log.Warn("could not retrieve changeset totals",
			logx.String("account", account), logx.Err(err))
		return
	}

	prev, known, err := s.st.UpsertTotals(ctx, account, totals)
	if err != nil {
		s.log.Error("could not persist totals",
			logx.String("account", account), logx.Err(err))
		return
	}

	s.log.Debug("totals updated",
		logx.String("account", account),
		logx.Int64("changes", totals.Changes),
		logx.Int64("changesets", totals.Changesets),
		logx.Int64("prev", prev),
		logx.Bool("prev_known", known))

	threshold, fired := Crossed(prev, known, totals.Changes)
	if !fired {
		return
	}

	s.log.Info("threshold crossed",
		logx.String("account", account), logx.Int64("threshold", threshold))

	recipients, err := s.st.Subscribers(ctx, account)
	if err != nil {
		s.log.Error("could not load subscribers",
			logx.String("account", account), logx.Err(err))
		return
	}

	for _, r := range recipients {
		err := s.notifier.Alert(ctx, r, account, threshold)
		switch {
		case err == nil:
		case errors.Is(err, ErrRecipientBlocked):
			s.log.Warn("recipient blocked the bot; removing subscriber",
				logx.String("subscriber", r.ID), logx.Int64("chat_id", r.ChatID))
			if rerr := s.st.RemoveSubscriber(ctx, r.ID); rerr != nil {
				s.log.Error("subscriber removal failed",
					logx.String("subscriber", r.ID), logx.Err(rerr))
			}
		default:
			// Transient: no per-message retry queue; the next crossing (if
			// any) alerts again naturally.
			s.log.Warn("alert delivery failed",
				logx.String("subscriber", r.ID), logx.Err(err))
		}
	}
}
