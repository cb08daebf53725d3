package config

// Config is the whole bot configuration. Durations are Go duration strings
// ("500ms", "10s", "24h"), plain seconds ("600") or days ("1d"); empty means
// the component default.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	QWeather  QWeatherConfig  `json:"qweather"`
	Cache     CacheConfig     `json:"cache"`
	Watchlist WatchlistConfig `json:"watchlist"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Digest    DigestConfig    `json:"digest"`
}

type TelegramConfig struct {
	// Token may be left empty here and supplied as TELEGRAM_TOKEN.
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	PollTimeout  string  `json:"poll_timeout"`
	// CommandTimeout bounds one command handler.
	CommandTimeout string `json:"command_timeout,omitempty"`
	// UserCommandsPerMinute throttles each non-owner sender; 0 disables.
	UserCommandsPerMinute int `json:"user_commands_per_minute,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// QWeatherConfig configures the upstream provider.
//
// Example:
//
//	"qweather": { "key": "", "free_subscribe": true, "timeout": "10s" }
type QWeatherConfig struct {
	// Key may be left empty here and supplied as QWEATHER_KEY.
	Key string `json:"key"`
	// FreeSubscribe selects the devapi host used by free plans.
	FreeSubscribe bool   `json:"free_subscribe"`
	Lang          string `json:"lang,omitempty"`
	Timeout       string `json:"timeout,omitempty"`

	// Host overrides, mainly for testing against a local server.
	GeoBaseURL     string `json:"geo_base_url,omitempty"`
	WeatherBaseURL string `json:"weather_base_url,omitempty"`

	Breaker BreakerConfig `json:"breaker"`
}

// BreakerConfig trips the provider circuit after consecutive failures.
type BreakerConfig struct {
	MaxFailures uint32 `json:"max_failures,omitempty"`
	OpenTimeout string `json:"open_timeout,omitempty"`
}

type CacheConfig struct {
	Dir            string `json:"dir"`
	NowTTL         string `json:"now_ttl,omitempty"`
	HourlyTTL      string `json:"hourly_ttl,omitempty"`
	LookupTTL      string `json:"lookup_ttl,omitempty"`
	ComputeTimeout string `json:"compute_timeout,omitempty"`
}

// WatchlistConfig selects the watch-list backend.
//
// Example:
//
//	"watchlist": { "driver": "file", "dir": "./data" }
//	"watchlist": { "driver": "sqlite", "path": "./data/watchlist.db" }
type WatchlistConfig struct {
	Driver      string `json:"driver"`
	Dir         string `json:"dir,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type DispatchConfig struct {
	QueueSize     int     `json:"queue_size,omitempty"`
	Interval      string  `json:"interval,omitempty"`
	RatePerSec    float64 `json:"rate_per_sec,omitempty"`
	RetryMax      int     `json:"retry_max,omitempty"`
	RetryBase     string  `json:"retry_base,omitempty"`
	RetryMaxDelay string  `json:"retry_max_delay,omitempty"`
	SendTimeout   string  `json:"send_timeout,omitempty"`
}

// DigestConfig controls the scheduled group digest.
//
// Schedule holds cron specs (5 fields, optional leading seconds field, or
// descriptors such as "@daily"). Empty means 07:00 and 19:00.
type DigestConfig struct {
	Enabled    bool     `json:"enabled"`
	Schedule   []string `json:"schedule,omitempty"`
	Timezone   string   `json:"timezone,omitempty"`
	Hours      int      `json:"hours,omitempty"`
	RunTimeout string   `json:"run_timeout,omitempty"`
}
