package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// CronParser is the parser used for digest schedules.
var CronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// DefaultDigestSchedule fires at 07:00 and 19:00.
var DefaultDigestSchedule = []string{"0 7 * * *", "0 19 * * *"}

// Validate reports every problem at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	dur := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	dur("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	dur("telegram.command_timeout", cfg.Telegram.CommandTimeout)
	dur("qweather.timeout", cfg.QWeather.Timeout)
	dur("qweather.breaker.open_timeout", cfg.QWeather.Breaker.OpenTimeout)
	dur("cache.now_ttl", cfg.Cache.NowTTL)
	dur("cache.hourly_ttl", cfg.Cache.HourlyTTL)
	dur("cache.lookup_ttl", cfg.Cache.LookupTTL)
	dur("cache.compute_timeout", cfg.Cache.ComputeTimeout)
	dur("watchlist.busy_timeout", cfg.Watchlist.BusyTimeout)
	dur("dispatch.interval", cfg.Dispatch.Interval)
	dur("dispatch.retry_base", cfg.Dispatch.RetryBase)
	dur("dispatch.retry_max_delay", cfg.Dispatch.RetryMaxDelay)
	dur("dispatch.send_timeout", cfg.Dispatch.SendTimeout)
	dur("digest.run_timeout", cfg.Digest.RunTimeout)

	switch strings.ToLower(strings.TrimSpace(cfg.Watchlist.Driver)) {
	case "", "file", "sqlite", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("watchlist.driver: unknown driver %q", cfg.Watchlist.Driver))
	}
	if cfg.Telegram.UserCommandsPerMinute < 0 {
		errs = append(errs, errors.New("telegram.user_commands_per_minute must be >= 0"))
	}
	if cfg.Dispatch.QueueSize < 0 {
		errs = append(errs, errors.New("dispatch.queue_size must be >= 0"))
	}
	if cfg.Dispatch.RatePerSec < 0 {
		errs = append(errs, errors.New("dispatch.rate_per_sec must be >= 0"))
	}
	if cfg.Dispatch.RetryMax < 0 {
		errs = append(errs, errors.New("dispatch.retry_max must be >= 0"))
	}
	if cfg.Digest.Hours < 0 || cfg.Digest.Hours > 24 {
		errs = append(errs, fmt.Errorf("digest.hours: %d out of range 0..24", cfg.Digest.Hours))
	}
	if tz := strings.TrimSpace(cfg.Digest.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("digest.timezone: %w", err))
		}
	}
	for i, spec := range cfg.Digest.Schedule {
		if _, err := CronParser.Parse(spec); err != nil {
			errs = append(errs, fmt.Errorf("digest.schedule[%d]: %q: %w", i, spec, err))
		}
	}
	return errors.Join(errs...)
}
