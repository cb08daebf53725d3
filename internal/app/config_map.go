package app

import (
	"time"

	"github.com/iona-s/hefeng-weather/internal/cache"
	"github.com/iona-s/hefeng-weather/internal/config"
	"github.com/iona-s/hefeng-weather/internal/digest"
	"github.com/iona-s/hefeng-weather/internal/dispatch"
	"github.com/iona-s/hefeng-weather/internal/transport/telegram"
	"github.com/iona-s/hefeng-weather/internal/watchlist"
	"github.com/iona-s/hefeng-weather/internal/weather"
	"github.com/iona-s/hefeng-weather/internal/weather/qweather"
	logx "github.com/iona-s/hefeng-weather/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: cfg.Telegram.Token, PollTimeout: poll}, nil
}

func mapCommandTimeout(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("telegram.command_timeout", cfg.Telegram.CommandTimeout, 30*time.Second)
}

func mapQWeatherConfig(cfg *config.Config) (qweather.Config, error) {
	q := cfg.QWeather
	timeout, err := config.ParseDurationField("qweather.timeout", q.Timeout)
	if err != nil {
		return qweather.Config{}, err
	}
	open, err := config.ParseDurationField("qweather.breaker.open_timeout", q.Breaker.OpenTimeout)
	if err != nil {
		return qweather.Config{}, err
	}
	return qweather.Config{
		Key:                q.Key,
		FreeSubscribe:      q.FreeSubscribe,
		Lang:               q.Lang,
		Timeout:            timeout,
		GeoBaseURL:         q.GeoBaseURL,
		WeatherBaseURL:     q.WeatherBaseURL,
		BreakerMaxFailures: q.Breaker.MaxFailures,
		BreakerOpenTimeout: open,
	}, nil
}

func mapCacheConfig(cfg *config.Config) (cache.Config, weather.TTLs, error) {
	c := cfg.Cache
	var (
		ttl weather.TTLs
		err error
	)
	if ttl.Now, err = config.ParseDurationField("cache.now_ttl", c.NowTTL); err != nil {
		return cache.Config{}, ttl, err
	}
	if ttl.Hourly, err = config.ParseDurationField("cache.hourly_ttl", c.HourlyTTL); err != nil {
		return cache.Config{}, ttl, err
	}
	if ttl.Lookup, err = config.ParseDurationField("cache.lookup_ttl", c.LookupTTL); err != nil {
		return cache.Config{}, ttl, err
	}
	compute, err := config.ParseDurationField("cache.compute_timeout", c.ComputeTimeout)
	if err != nil {
		return cache.Config{}, ttl, err
	}
	return cache.Config{Dir: c.Dir, ComputeTimeout: compute}, ttl, nil
}

func mapWatchlistConfig(cfg *config.Config) (watchlist.Config, error) {
	w := cfg.Watchlist
	busy, err := config.ParseDurationField("watchlist.busy_timeout", w.BusyTimeout)
	if err != nil {
		return watchlist.Config{}, err
	}
	return watchlist.Config{Driver: w.Driver, Dir: w.Dir, Path: w.Path, BusyTimeout: busy}, nil
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	d := cfg.Dispatch
	out := dispatch.Config{QueueSize: d.QueueSize, RatePerSec: d.RatePerSec, RetryMax: d.RetryMax}
	var err error
	if out.Interval, err = config.ParseDurationField("dispatch.interval", d.Interval); err != nil {
		return out, err
	}
	if out.RetryBase, err = config.ParseDurationField("dispatch.retry_base", d.RetryBase); err != nil {
		return out, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationField("dispatch.retry_max_delay", d.RetryMaxDelay); err != nil {
		return out, err
	}
	if out.SendTimeout, err = config.ParseDurationField("dispatch.send_timeout", d.SendTimeout); err != nil {
		return out, err
	}
	return out, nil
}

func mapDigestConfig(cfg *config.Config) (digest.Config, error) {
	d := cfg.Digest
	run, err := config.ParseDurationField("digest.run_timeout", d.RunTimeout)
	if err != nil {
		return digest.Config{}, err
	}
	return digest.Config{
		Enabled:    d.Enabled,
		Schedule:   d.Schedule,
		Timezone:   d.Timezone,
		Hours:      d.Hours,
		RunTimeout: run,
	}, nil
}

// validateMapped rejects a reload that any component mapping would refuse.
func validateMapped(cfg *config.Config) error {
	if _, err := mapTelegramConfig(cfg); err != nil {
		return err
	}
	if _, err := mapCommandTimeout(cfg); err != nil {
		return err
	}
	if _, err := mapQWeatherConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapCacheConfig(cfg); err != nil {
		return err
	}
	if _, err := mapWatchlistConfig(cfg); err != nil {
		return err
	}
	if _, err := mapDispatchConfig(cfg); err != nil {
		return err
	}
	_, err := mapDigestConfig(cfg)
	return err
}
