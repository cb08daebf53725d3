package digest

import (
	"context"
	"time"

	"github.com/iona-s/hefeng-weather/internal/config"
	"github.com/iona-s/hefeng-weather/internal/dispatch"
	"github.com/iona-s/hefeng-weather/internal/transport"
	"github.com/iona-s/hefeng-weather/internal/watchlist"
)

// Delimiter separates location blocks inside one group digest.
const Delimiter = "----------"

const (
	DefaultHours      = 6
	DefaultRunTimeout = 2 * time.Minute
)

// DefaultSchedule fires at 07:00 and 19:00.
var DefaultSchedule = config.DefaultDigestSchedule

type Config struct {
	Enabled  bool
	Schedule []string
	// Timezone is an IANA name; empty means the host zone.
	Timezone   string
	Hours      int
	RunTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if len(c.Schedule) == 0 {
		c.Schedule = DefaultSchedule
	}
	if c.Hours <= 0 {
		c.Hours = DefaultHours
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = DefaultRunTimeout
	}
	return c
}

// Lister is the read side of the watch-list store.
type Lister interface {
	List(ctx context.Context, v watchlist.Variant) (watchlist.Mapping, bool, error)
}

// Enqueuer accepts outbound messages.
type Enqueuer interface {
	Enqueue(ctx context.Context, text string, reply *transport.Message, dest *dispatch.Destination) error
}

// Report summarizes one run.
type Report struct {
	Groups          int
	Dispatched      int
	Skipped         int
	FailedLocations int
	Took            time.Duration
}
