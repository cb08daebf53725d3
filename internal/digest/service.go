// Package digest sends scheduled hourly forecasts to every group that
// watches at least one location.
package digest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/iona-s/hefeng-weather/internal/config"
	"github.com/iona-s/hefeng-weather/internal/dispatch"
	"github.com/iona-s/hefeng-weather/internal/watchlist"
	"github.com/iona-s/hefeng-weather/internal/weather"
	logx "github.com/iona-s/hefeng-weather/pkg/logx"
)


type Service struct {
	store    Lister
	provider weather.Provider
	out      Enqueuer
	log      logx.Logger

	mu      sync.Mutex
	cfg     Config
	c       *cron.Cron
	baseCtx context.Context
}

func New(cfg Config, store Lister, provider weather.Provider, out Enqueuer, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		store:    store,
		provider: provider,
		out:      out,
		log:      log.With(logx.String("comp", "digest")),
		cfg:      cfg.withDefaults(),
	}
}

// Start registers the schedule. It is a no-op when disabled.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.baseCtx = ctx
	return s.startLocked()
}

func (s *Service) startLocked() error {
	cfg := s.cfg
	if !cfg.Enabled {
		s.log.Info("digest disabled")
		return nil
	}
	loc, err := loadLocation(cfg.Timezone)
	if err != nil {
		return err
	}
	cl := cronLogger{log: s.log}
	c := cron.New(
		cron.WithParser(config.CronParser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	for _, spec := range cfg.Schedule {
		if _, err := c.AddFunc(spec, s.fire); err != nil {
			return fmt.Errorf("digest: schedule %q: %w", spec, err)
		}
	}
	c.Start()
	s.c = c

	var next []string
	for _, e := range c.Entries() {
		next = append(next, e.Next.Format(time.RFC3339))
	}
	s.log.Info("digest scheduled", logx.Strings("schedule", cfg.Schedule), logx.String("tz", loc.String()), logx.Strings("next", next))
	return nil
}

// NextRuns lists upcoming fire times, earliest first. It is empty while the
// digest is not scheduled.
func (s *Service) NextRuns() []time.Time {
	s.mu.Lock()
	c := s.c
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	var out []time.Time
	for _, e := range c.Entries() {
		if !e.Next.IsZero() {
			out = append(out, e.Next)
		}
	}
	slices.SortFunc(out, time.Time.Compare)
	return out
}

// Stop halts the trigger and waits for a running digest until ctx ends.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.baseCtx = nil // a later Apply only records the config
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("digest stop timed out")
	}
}

// Apply swaps the config and reschedules when running.
func (s *Service) Apply(cfg Config) error {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	if s.baseCtx == nil {
		return nil
	}
	if s.c != nil {
		s.c.Stop()
		s.c = nil
	}
	return s.startLocked()
}

func (s *Service) fire() {
	s.mu.Lock()
	base := s.baseCtx
	timeout := s.cfg.RunTimeout
	s.mu.Unlock()
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithTimeout(base, timeout)
	defer cancel()
	if _, err := s.RunOnce(ctx); err != nil {
		s.log.Error("digest run failed", logx.Err(err))
	}
}

// RunOnce builds and enqueues one digest per watching group. Groups are
// visited in identity order. A location that fails renders an error line;
// a group whose every location failed is skipped.
func (s *Service) RunOnce(ctx context.Context) (Report, error) {
	start := time.Now()
	var rep Report

	m, ok, err := s.store.List(ctx, watchlist.Multi)
	if err != nil {
		return rep, fmt.Errorf("digest: list watches: %w", err)
	}
	if !ok {
		s.log.Debug("no watch list; nothing to send")
		return rep, nil
	}

	s.mu.Lock()
	hours := s.cfg.Hours
	s.mu.Unlock()

	groups := make([]string, 0, len(m))
	for g := range m {
		groups = append(groups, g)
	}
	slices.Sort(groups)

	var errs []error
	for _, group := range groups {
		locs := m[group]
		if len(locs) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		rep.Groups++

		blocks := make([]string, 0, len(locs))
		failed := 0
		for _, loc := range locs {
			block, err := s.render(ctx, loc, hours)
			if err != nil {
				failed++
				s.log.Warn("digest location failed", logx.String("group", group), logx.String("location", loc), logx.Err(err))
				block = fmt.Sprintf("%s 查询失败，%s", loc, weather.Reason(err))
			}
			blocks = append(blocks, block)
		}
		rep.FailedLocations += failed
		if failed == len(locs) {
			rep.Skipped++
			s.log.Warn("digest group skipped; every location failed", logx.String("group", group), logx.Int("locations", len(locs)))
			continue
		}

		dest := &dispatch.Destination{Kind: dispatch.KindGroup, ID: group}
		if err := s.out.Enqueue(ctx, strings.Join(blocks, "\n"+Delimiter+"\n"), nil, dest); err != nil {
			errs = append(errs, fmt.Errorf("group %s: %w", group, err))
			continue
		}
		rep.Dispatched++
	}

	rep.Took = time.Since(start)
	s.log.Info("digest run done",
		logx.Int("groups", rep.Groups),
		logx.Int("dispatched", rep.Dispatched),
		logx.Int("skipped", rep.Skipped),
		logx.Int("failed_locations", rep.FailedLocations),
		logx.Duration("took", rep.Took),
	)
	return rep, errors.Join(errs...)
}

func (s *Service) render(ctx context.Context, location string, hours int) (string, error) {
	city, err := s.provider.Lookup(ctx, location)
	if err != nil {
		return "", err
	}
	hs, err := s.provider.Hourly(ctx, location)
	if err != nil {
		return "", err
	}
	if len(hs) > hours {
		hs = hs[:hours]
	}
	return weather.FormatForecast(city.Name, hs), nil
}

func loadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("digest: timezone %q: %w", tz, err)
	}
	return loc, nil
}

// cronLogger routes cron's job-wrapper messages to logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
