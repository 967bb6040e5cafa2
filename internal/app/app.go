// Package app wires config, logging, store, OSM client, watch service and
// the Telegram transport into one process.
package app

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"

	"github.com/coreos/go-systemd/v22/daemon"

	"osmwatch/internal/config"
	"osmwatch/internal/osm"
	"osmwatch/internal/store"
	"osmwatch/internal/transport/telegram"
	"osmwatch/internal/watch"
	logx "osmwatch/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	logs   *logx.Service
	log    logx.Logger
	st     *store.Store
	bot    *telegram.Bot
	watch  *watch.Service

	wg sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	mgr.SetLogger(log.With(logx.String("comp", "config")))

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(store.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "store")))
	if err != nil {
		return nil, err
	}
	// Clean up rows a crash may have left behind.
	if _, err := st.PruneOrphans(context.Background()); err != nil {
		log.Warn("startup prune failed", logx.Err(err))
	}

	osmTimeout, err := config.ParseDurationField("osm.timeout", cfg.OSM.Timeout)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	osmClient := osm.NewClient(osm.Config{
		BaseURL:       cfg.OSM.BaseURL,
		UserAgent:     cfg.OSM.UserAgent,
		From:          cfg.OSM.From,
		Timeout:       osmTimeout,
		RatePerSec:    cfg.OSM.RatePerSec,
		RetryAttempts: cfg.OSM.RetryAttempts,
	}, log.With(logx.String("comp", "osm")))

	token := strings.TrimSpace(cfg.Telegram.Token)
	if token == "" {
		token = strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN"))
	}
	if token == "" {
		_ = st.Close()
		return nil, errors.New("telegram token missing (config telegram.token or TELEGRAM_BOT_TOKEN)")
	}
	pollTimeout, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	bot, err := telegram.New(telegram.Config{
		Token:       token,
		PollTimeout: pollTimeout,
	}, st, osmClient, log.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	interval, err := cfg.WatchInterval()
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	firstDelay, err := cfg.WatchFirstDelay()
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	watchSvc := watch.New(watch.Config{
		Interval:   interval,
		FirstDelay: firstDelay,
		Workers:    cfg.WatchWorkers(),
	}, osmClient, st, bot, log.With(logx.String("comp", "watch")))
	bot.SetWatcher(watchSvc)

	return &App{
		cfgMgr: mgr,
		logs:   logs,
		log:    log,
		st:     st,
		bot:    bot,
		watch:  watchSvc,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	a.watch.Start(ctx)
	a.bot.Start(ctx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgMgr.Watch(ctx, a.applyConfig); err != nil {
			a.log.Warn("config watch unavailable", logx.Err(err))
		}
	}()

	// Best-effort; no-op outside systemd.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	a.log.Info("osmwatch started")
	return nil
}

// applyConfig handles hot-reloadable sections. Everything else (token,
// storage path, OSM endpoint) needs a restart.
func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	interval, err := cfg.WatchInterval()
	if err != nil {
		a.log.Warn("reload: bad watch interval", logx.Err(err))
		return
	}
	firstDelay, err := cfg.WatchFirstDelay()
	if err != nil {
		a.log.Warn("reload: bad watch first delay", logx.Err(err))
		return
	}
	a.watch.Apply(watch.Config{
		Interval:   interval,
		FirstDelay: firstDelay,
		Workers:    cfg.WatchWorkers(),
	})
}

func (a *App) Stop() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	a.bot.Stop()
	a.watch.Stop()
	a.wg.Wait()
	if err := a.st.Close(); err != nil {
		a.log.Warn("store close failed", logx.Err(err))
	}
	_ = a.logs.Close()
	a.log.Info("osmwatch stopped")
}
