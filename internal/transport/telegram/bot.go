// Package telegram is the chat-transport layer: command routing, the
// two-step follow/unfollow conversations and alert delivery.
package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"osmwatch/internal/osm"
	"osmwatch/internal/store"
	logx "osmwatch/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// Watcher triggers an on-demand watch cycle, optionally restricted to a set
// of accounts. It blocks until the cycle is done so replies carry fresh data.
type Watcher interface {
	Run(ctx context.Context, accounts ...string) error
}

type pendingAction int

const (
	pendingNone pendingAction = iota
	pendingFollow
	pendingUnfollow
)

type Bot struct {
	bot *tele.Bot
	st  *store.Store
	osm *osm.Client
	log logx.Logger

	mu      sync.Mutex
	watcher Watcher
	pending map[int64]pendingAction // keyed by chat ID
	runCtx  context.Context
	running bool
}

func New(cfg Config, st *store.Store, osmClient *osm.Client, log logx.Logger) (*Bot, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	tb, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
		OnError: func(err error, c tele.Context) {
			f := []logx.Field{logx.Err(err)}
			if c != nil && c.Chat() != nil {
				f = append(f, logx.Int64("chat_id", c.Chat().ID))
			}
			log.Error("handler error", f...)
		},
	})
	if err != nil {
		return nil, err
	}
	b := &Bot{
		bot:     tb,
		st:      st,
		osm:     osmClient,
		log:     log,
		pending: make(map[int64]pendingAction),
	}
	b.registerHandlers()
	return b, nil
}

// SetWatcher wires the watch service in after construction (the watch
// service needs the bot as its Notifier first).
func (b *Bot) SetWatcher(w Watcher) {
	b.mu.Lock()
	b.watcher = w
	b.mu.Unlock()
}

func (b *Bot) Start(ctx context.Context) {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.runCtx = ctx
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.Stop()
	}()
	go func() {
		b.log.Info("polling started")
		b.bot.Start()
		b.log.Info("polling stopped")
	}()
}

func (b *Bot) Stop() {
	b.mu.Lock()
	wasRunning := b.running
	b.running = false
	b.mu.Unlock()
	if wasRunning {
		b.bot.Stop()
	}
}

func (b *Bot) ctx() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.runCtx != nil {
		return b.runCtx
	}
	return context.Background()
}

func (b *Bot) currentWatcher() Watcher {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.watcher
}

func (b *Bot) setPending(chatID int64, a pendingAction) {
	b.mu.Lock()
	if a == pendingNone {
		delete(b.pending, chatID)
	} else {
		b.pending[chatID] = a
	}
	b.mu.Unlock()
}

func (b *Bot) takePending(chatID int64) pendingAction {
	b.mu.Lock()
	defer b.mu.Unlock()
	a := b.pending[chatID]
	delete(b.pending, chatID)
	return a
}

// subscriberID derives the stable store identifier for a Telegram user.
// Not everyone sets a username, so fall back to the numeric user ID.
func subscriberID(u *tele.User) string {
	if u == nil {
		return ""
	}
	if u.Username != "" {
		return "@" + u.Username
	}
	return "id:" + strconv.FormatInt(u.ID, 10)
}
