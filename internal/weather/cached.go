package weather

import (
	"context"
	"time"

	"github.com/iona-s/hefeng-weather/internal/cache"
)

// Default TTLs of cached provider calls.
const (
	DefaultLookupTTL = 24 * time.Hour
	DefaultNowTTL    = 10 * time.Minute
	DefaultHourlyTTL = 30 * time.Minute
)

// Cache operation names. They are part of the fingerprint.
const (
	OpLookup = "lookup"
	OpNow    = "now"
	OpHourly = "hourly"
)

type TTLs struct {
	Lookup time.Duration
	Now    time.Duration
	Hourly time.Duration
}

func (t TTLs) withDefaults() TTLs {
	if t.Lookup <= 0 {
		t.Lookup = DefaultLookupTTL
	}
	if t.Now <= 0 {
		t.Now = DefaultNowTTL
	}
	if t.Hourly <= 0 {
		t.Hourly = DefaultHourlyTTL
	}
	return t
}

// Cached serves a Provider through the disk cache.
type Cached struct {
	p    Provider
	c    *cache.Cache
	ttl  TTLs
	lang string
}

var _ Provider = (*Cached)(nil)

// NewCached wraps p. lang only feeds the fingerprint so that a language
// switch does not serve stale text.
func NewCached(p Provider, c *cache.Cache, ttl TTLs, lang string) *Cached {
	return &Cached{p: p, c: c, ttl: ttl.withDefaults(), lang: lang}
}

func (c *Cached) Lookup(ctx context.Context, query string) (City, error) {
	args := []cache.Arg{cache.A("location", query), cache.A("number", 1)}
	return cache.GetOrCompute(ctx, c.c, OpLookup, args, c.ttl.Lookup, func(ctx context.Context) (City, error) {
		return c.p.Lookup(ctx, query)
	})
}

func (c *Cached) Now(ctx context.Context, location string) (Now, error) {
	args := []cache.Arg{cache.A("location", location), cache.A("lang", c.lang)}
	return cache.GetOrCompute(ctx, c.c, OpNow, args, c.ttl.Now, func(ctx context.Context) (Now, error) {
		return c.p.Now(ctx, location)
	})
}

func (c *Cached) Hourly(ctx context.Context, location string) ([]Hourly, error) {
	args := []cache.Arg{cache.A("location", location), cache.A("lang", c.lang)}
	return cache.GetOrCompute(ctx, c.c, OpHourly, args, c.ttl.Hourly, func(ctx context.Context) ([]Hourly, error) {
		return c.p.Hourly(ctx, location)
	})
}
