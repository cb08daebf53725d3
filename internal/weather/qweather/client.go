// Package qweather is the QWeather (和风天气) implementation of
// weather.Provider.
package qweather

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"resty.dev/v3"

	"github.com/iona-s/hefeng-weather/internal/weather"
	logx "github.com/iona-s/hefeng-weather/pkg/logx"
)

const (
	geoBaseURL     = "https://geoapi.qweather.com"
	apiBaseURL     = "https://api.qweather.com"
	devAPIBaseURL  = "https://devapi.qweather.com"
	defaultTimeout = 10 * time.Second
)

type Config struct {
	Key string
	// FreeSubscribe selects the devapi host.
	FreeSubscribe bool
	Lang          string
	Timeout       time.Duration

	GeoBaseURL     string
	WeatherBaseURL string

	// Range limits city lookups to one country ("cn").
	Range string

	BreakerMaxFailures uint32
	BreakerOpenTimeout time.Duration
}

type Client struct {
	cfg     Config
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker
	log     logx.Logger
}

var _ weather.Provider = (*Client)(nil)

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Key) == "" {
		return nil, errors.New("qweather key is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "qweather"))
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Lang == "" {
		cfg.Lang = "zh"
	}
	if cfg.Range == "" {
		cfg.Range = "cn"
	}
	if cfg.GeoBaseURL == "" {
		cfg.GeoBaseURL = geoBaseURL
	}
	if cfg.WeatherBaseURL == "" {
		cfg.WeatherBaseURL = apiBaseURL
		if cfg.FreeSubscribe {
			cfg.WeatherBaseURL = devAPIBaseURL
		}
	}
	if cfg.BreakerMaxFailures == 0 {
		cfg.BreakerMaxFailures = 5
	}
	if cfg.BreakerOpenTimeout <= 0 {
		cfg.BreakerOpenTimeout = time.Minute
	}

	maxFailures := cfg.BreakerMaxFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "qweather",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= maxFailures
		},
		// Provider return codes are answers, not outages.
		IsSuccessful: func(err error) bool {
			var qe *weather.QueryError
			return err == nil || (errors.As(err, &qe) && qe.Code != "")
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit state changed", logx.String("from", from.String()), logx.String("to", to.String()))
		},
	})

	hc := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetQueryParam("key", cfg.Key)

	return &Client{cfg: cfg, http: hc, breaker: cb, log: log}, nil
}

func (c *Client) Close() error { return c.http.Close() }

// BreakerState reports the circuit state: closed, half-open or open.
func (c *Client) BreakerState() string { return c.breaker.State().String() }

type envelope struct {
	Code string `json:"code"`
}

// get runs one GET through the breaker and checks both the HTTP status and
// the provider code. out must embed the code field.
func (c *Client) get(ctx context.Context, url string, params map[string]string, out interface{ code() string }) error {
	_, err := c.breaker.Execute(func() (any, error) {
		start := time.Now()
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(params).
			SetResult(out).
			Get(url)
		if err != nil {
			c.log.Warn("query transport error", logx.String("url", url), logx.Err(err))
			return nil, &weather.QueryError{Reason: reasonConnect}
		}
		c.log.Debug("query done", logx.String("url", url), logx.Int("status", resp.StatusCode()), logx.Duration("took", time.Since(start)))
		if resp.StatusCode() != 200 {
			return nil, &weather.QueryError{Reason: reasonConnect}
		}
		if code := out.code(); code != "200" {
			c.log.Warn("query failed", logx.String("url", url), logx.String("code", code))
			return nil, &weather.QueryError{Code: code, Reason: reasonFor(code)}
		}
		return nil, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &weather.QueryError{Reason: reasonBreaker}
	}
	return err
}

func (e envelope) code() string { return e.Code }

type lookupResp struct {
	envelope
	Location []rawCity `json:"location"`
}

type nowResp struct {
	envelope
	Now rawNow `json:"now"`
}

type hourlyResp struct {
	envelope
	Hourly []rawHourly `json:"hourly"`
}

// Lookup resolves a city name or "lon,lat" to its best match.
func (c *Client) Lookup(ctx context.Context, query string) (weather.City, error) {
	var out lookupResp
	err := c.get(ctx, c.cfg.GeoBaseURL+"/v2/city/lookup", map[string]string{
		"location": query,
		"range":    c.cfg.Range,
		"number":   "1",
	}, &out)
	if err != nil {
		return weather.City{}, err
	}
	if len(out.Location) == 0 {
		return weather.City{}, &weather.QueryError{Code: "404", Reason: reasonFor("404")}
	}
	city, err := out.Location[0].city()
	if err != nil {
		return weather.City{}, fmt.Errorf("qweather: lookup: %w", err)
	}
	return city, nil
}

func (c *Client) Now(ctx context.Context, location string) (weather.Now, error) {
	var out nowResp
	if err := c.get(ctx, c.cfg.WeatherBaseURL+"/v7/weather/now", c.weatherParams(location), &out); err != nil {
		return weather.Now{}, err
	}
	return out.Now.now()
}

func (c *Client) Hourly(ctx context.Context, location string) ([]weather.Hourly, error) {
	var out hourlyResp
	if err := c.get(ctx, c.cfg.WeatherBaseURL+"/v7/weather/24h", c.weatherParams(location), &out); err != nil {
		return nil, err
	}
	res := make([]weather.Hourly, 0, len(out.Hourly))
	for i, h := range out.Hourly {
		v, err := h.hourly()
		if err != nil {
			return nil, fmt.Errorf("qweather: hourly[%d]: %w", i, err)
		}
		res = append(res, v)
	}
	return res, nil
}

func (c *Client) weatherParams(location string) map[string]string {
	return map[string]string{"location": location, "lang": c.cfg.Lang}
}
