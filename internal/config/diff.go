package config

import (
	"reflect"
	"strings"

	logx "github.com/iona-s/hefeng-weather/pkg/logx"
)

// SummarizeConfigChange lists the changed sections plus log fields describing
// them. Secrets are reported only as set/unset.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token ||
		!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) ||
		strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		strings.TrimSpace(ot.CommandTimeout) != strings.TrimSpace(nt.CommandTimeout) ||
		ot.UserCommandsPerMinute != nt.UserCommandsPerMinute {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.String("telegram.poll_timeout", nt.PollTimeout),
			logx.Int("telegram.user_commands_per_minute", nt.UserCommandsPerMinute),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.QWeather != newCfg.QWeather {
		changed = append(changed, "qweather")
		attrs = append(attrs,
			logx.Bool("qweather.key_set", newCfg.QWeather.Key != ""),
			logx.Bool("qweather.free_subscribe", newCfg.QWeather.FreeSubscribe),
			logx.String("qweather.timeout", newCfg.QWeather.Timeout),
		)
	}

	if oldCfg.Cache != newCfg.Cache {
		changed = append(changed, "cache")
		attrs = append(attrs,
			logx.String("cache.dir", newCfg.Cache.Dir),
			logx.String("cache.now_ttl", newCfg.Cache.NowTTL),
			logx.String("cache.hourly_ttl", newCfg.Cache.HourlyTTL),
		)
	}

	if oldCfg.Watchlist != newCfg.Watchlist {
		changed = append(changed, "watchlist")
		attrs = append(attrs, logx.String("watchlist.driver", newCfg.Watchlist.Driver))
	}

	if oldCfg.Dispatch != newCfg.Dispatch {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.String("dispatch.interval", newCfg.Dispatch.Interval),
			logx.Any("dispatch.rate_per_sec", newCfg.Dispatch.RatePerSec),
			logx.Int("dispatch.retry_max", newCfg.Dispatch.RetryMax),
		)
	}

	if !reflect.DeepEqual(oldCfg.Digest, newCfg.Digest) {
		changed = append(changed, "digest")
		attrs = append(attrs,
			logx.Bool("digest.enabled", newCfg.Digest.Enabled),
			logx.Strings("digest.schedule", newCfg.Digest.Schedule),
			logx.String("digest.timezone", newCfg.Digest.Timezone),
		)
	}
	return changed, attrs
}

// RequiresRestart reports changes that running components cannot apply
// live.
func RequiresRestart(oldCfg, newCfg *Config) bool {
	if oldCfg == nil || newCfg == nil {
		return false
	}
	return oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		oldCfg.QWeather != newCfg.QWeather ||
		oldCfg.Cache != newCfg.Cache ||
		oldCfg.Watchlist != newCfg.Watchlist ||
		oldCfg.Dispatch.QueueSize != newCfg.Dispatch.QueueSize
}
