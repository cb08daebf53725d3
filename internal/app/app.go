// Package app wires the bot together and owns its lifecycle.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/iona-s/hefeng-weather/internal/cache"
	"github.com/iona-s/hefeng-weather/internal/commands"
	"github.com/iona-s/hefeng-weather/internal/config"
	"github.com/iona-s/hefeng-weather/internal/digest"
	"github.com/iona-s/hefeng-weather/internal/dispatch"
	"github.com/iona-s/hefeng-weather/internal/runtime/supervisor"
	"github.com/iona-s/hefeng-weather/internal/transport"
	"github.com/iona-s/hefeng-weather/internal/transport/telegram"
	"github.com/iona-s/hefeng-weather/internal/watchlist"
	"github.com/iona-s/hefeng-weather/internal/weather"
	"github.com/iona-s/hefeng-weather/internal/weather/qweather"
	logx "github.com/iona-s/hefeng-weather/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	store    *watchlist.Store
	adapter  transport.Adapter
	provider weather.Provider
	closer   func() error // provider resources

	dispatch *dispatch.Service
	digest   *digest.Service
	router   *commands.Router
	breaker  func() string

	startedAt time.Time
	updates   chan transport.Update
}

// New loads the config at cfgPath and builds every component against the
// live Telegram and QWeather endpoints.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	logs, log := logx.New(mapLoggingConfig(cfg))

	tc, err := mapTelegramConfig(cfg)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(tc, log)
	if err != nil {
		return nil, err
	}
	qc, err := mapQWeatherConfig(cfg)
	if err != nil {
		return nil, err
	}
	qw, err := qweather.New(qc, log)
	if err != nil {
		return nil, err
	}
	a, err := build(cfgm, cfg, logs, log, ad, qw)
	if err != nil {
		_ = qw.Close()
		return nil, err
	}
	a.closer = qw.Close
	return a, nil
}

// build assembles the components around an adapter and an upstream provider.
func build(cfgm *config.ConfigManager, cfg *config.Config, logs *logx.Service, log logx.Logger, ad transport.Adapter, upstream weather.Provider) (*App, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	wc, err := mapWatchlistConfig(cfg)
	if err != nil {
		return nil, err
	}
	cc, ttl, err := mapCacheConfig(cfg)
	if err != nil {
		return nil, err
	}
	dc, err := mapDispatchConfig(cfg)
	if err != nil {
		return nil, err
	}
	gc, err := mapDigestConfig(cfg)
	if err != nil {
		return nil, err
	}
	cmdTimeout, err := mapCommandTimeout(cfg)
	if err != nil {
		return nil, err
	}

	store, err := watchlist.Open(wc, log)
	if err != nil {
		return nil, err
	}
	lang := cfg.QWeather.Lang
	if lang == "" {
		lang = "zh"
	}
	provider := weather.NewCached(upstream, cache.New(cc, log), ttl, lang)
	disp := dispatch.New(dc, ad, log)
	dig := digest.New(gc, store, provider, disp, log)

	a := &App{
		cfgm:     cfgm,
		log:      log.With(logx.String("comp", "app")),
		logs:     logs,
		store:    store,
		adapter:  ad,
		provider: provider,
		dispatch: disp,
		digest:   dig,
		updates:  make(chan transport.Update, 256),
	}
	if b, ok := upstream.(interface{ BreakerState() string }); ok {
		a.breaker = b.BreakerState
	}

	a.router = commands.NewRouter(disp, cfg.Telegram.OwnerUserIDs, cmdTimeout, log)
	a.router.SetUserRate(cfg.Telegram.UserCommandsPerMinute)
	h := &commands.Handlers{Provider: provider, Store: store, Digest: dig, Out: disp, Status: a.status}
	a.router.Register(h.Commands(a.router)...)
	return a, nil
}

func (a *App) status() commands.Status {
	st := commands.Status{
		StartedAt:  a.startedAt,
		Dispatch:   a.dispatch.Stats(),
		NextDigest: a.digest.NextRuns(),
	}
	if a.sup != nil {
		st.Supervisor = a.sup.Counters()
	}
	if a.breaker != nil {
		st.Breaker = a.breaker()
	}
	return st
}

// Done is closed when the app context ends.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start brings components up in dependency order: adapter, dispatcher,
// digest, commands and finally config watching.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.startedAt = time.Now()
	run := a.sup.Context()

	a.cfgm.SetLogger(a.log)
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validateMapped(cfg) })

	if err := a.adapter.Start(run, a.updates); err != nil {
		return fmt.Errorf("adapter start: %w", err)
	}
	// The dispatcher outlives the run context so Stop can drain it.
	a.dispatch.Start(context.WithoutCancel(ctx))
	if err := a.digest.Start(run); err != nil {
		return err
	}

	if up, ok := a.adapter.(transport.CommandMenuUpdater); ok {
		menu := a.router.Menu()
		a.sup.Go0("telegram.menu", func(c context.Context) {
			mctx, cancel := context.WithTimeout(c, 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(mctx, menu); err != nil {
				a.log.Warn("command menu update failed", logx.Err(err))
			}
		})
	}
	a.sup.Go("commands", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	startSystemd(a.sup, a.log)
	a.log.Info("app started")
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Keep only the latest of a burst.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.apply(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// apply pushes the live-reloadable parts of a new config.
func (a *App) apply(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if config.RequiresRestart(oldCfg, newCfg) {
		a.log.Warn("some config changes need a restart to take effect")
	}
	if a.logs != nil {
		a.logs.Apply(mapLoggingConfig(newCfg))
	}
	a.router.SetOwners(newCfg.Telegram.OwnerUserIDs)
	a.router.SetUserRate(newCfg.Telegram.UserCommandsPerMinute)

	if dc, err := mapDispatchConfig(newCfg); err != nil {
		a.log.Warn("invalid dispatch config; keeping previous", logx.Err(err))
	} else {
		a.dispatch.Apply(dc)
	}
	if gc, err := mapDigestConfig(newCfg); err != nil {
		a.log.Warn("invalid digest config; keeping previous", logx.Err(err))
	} else if err := a.digest.Apply(gc); err != nil {
		a.log.Warn("digest reschedule failed", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts down in reverse start order. Each step is bounded and never
// extends the caller's deadline.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	notifyStopping(a.log)

	// Commands stop taking work first; the dispatcher still drains below.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			max = min(max, time.Until(dl))
		}
		if max <= 0 {
			a.log.Warn("stop step skipped; deadline reached", logx.String("name", name))
			return
		}
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(sctx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-sctx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("digest", 3*time.Second, func(c context.Context) error { a.digest.Stop(c); return nil })
	step("dispatch", 5*time.Second, func(c context.Context) error { a.dispatch.Stop(c); return nil })
	step("adapter", 3*time.Second, a.adapter.Stop)
	step("supervisor", 3*time.Second, a.sup.Wait)
	step("watchlist", time.Second, func(context.Context) error { return a.store.Close() })
	if a.closer != nil {
		step("provider", time.Second, func(context.Context) error { return a.closer() })
	}

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
