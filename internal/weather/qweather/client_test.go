package qweather

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iona-s/hefeng-weather/internal/weather"
	logx "github.com/iona-s/hefeng-weather/pkg/logx"
)

const (
	lookupBody = `{"code":"200","location":[{"name":"北京","id":"101010100","lat":"39.90498","lon":"116.40528","adm2":"北京","adm1":"北京市","country":"中国","tz":"Asia/Shanghai","utcOffset":"+08:00","isDst":"0","type":"city","rank":"10","fxLink":"https://www.qweather.com/weather/beijing-101010100.html"}]}`
	nowBody    = `{"code":"200","now":{"obsTime":"2024-06-01T12:00+08:00","temp":"24","feelsLike":"26","icon":"101","text":"多云","wind360":"45","windDir":"东北风","windScale":"3","windSpeed":"15","humidity":"40","precip":"0.0","pressure":"1003","vis":"16","cloud":"","dew":"11"}}`
	hourlyBody = `{"code":"200","hourly":[{"fxTime":"2024-06-01T13:00+08:00","temp":"25","icon":"305","text":"小雨","wind360":"90","windDir":"东风","windScale":"1-2","windSpeed":"6","humidity":"60","pop":"70","precip":"0.5","pressure":"1002","cloud":"80","dew":"16"},{"fxTime":"2024-06-01T14:00+08:00","temp":"26","icon":"101","text":"多云","wind360":"90","windDir":"东风","windScale":"1-2","windSpeed":"6","humidity":"55","pop":"","precip":"0.0","pressure":"1002","cloud":"","dew":""}]}`
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{
		Key:                "k",
		Timeout:            2 * time.Second,
		GeoBaseURL:         srv.URL,
		WeatherBaseURL:     srv.URL,
		BreakerMaxFailures: 2,
		BreakerOpenTimeout: time.Minute,
	}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func writeJSON(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

func TestLookup(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/v2/city/lookup" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if q.Get("key") != "k" || q.Get("location") != "beijing" || q.Get("range") != "cn" || q.Get("number") != "1" {
			t.Errorf("query = %v", q)
		}
		writeJSON(w, lookupBody)
	})

	city, err := c.Lookup(context.Background(), "beijing")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if city.ID != "101010100" || city.Name != "北京" || city.Rank != 10 || city.IsDST {
		t.Fatalf("city = %+v", city)
	}
	if city.Lon < 116.4 || city.Lon > 116.41 {
		t.Fatalf("Lon = %v", city.Lon)
	}
}

func TestNow(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v7/weather/now" || r.URL.Query().Get("lang") != "zh" {
			t.Errorf("request = %s?%s", r.URL.Path, r.URL.RawQuery)
		}
		writeJSON(w, nowBody)
	})

	now, err := c.Now(context.Background(), "101010100")
	if err != nil {
		t.Fatalf("Now: %v", err)
	}
	if now.Temp != 24 || now.FeelsLike != 26 || now.Text != "多云" || now.WindScale != "3" {
		t.Fatalf("now = %+v", now)
	}
	if now.Cloud != nil {
		t.Fatalf("Cloud = %v, want nil for empty field", *now.Cloud)
	}
	if now.Dew == nil || *now.Dew != 11 {
		t.Fatalf("Dew = %v", now.Dew)
	}
	if now.ObsTime.Hour() != 12 {
		t.Fatalf("ObsTime = %v", now.ObsTime)
	}
}

func TestHourly(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v7/weather/24h" {
			t.Errorf("path = %s", r.URL.Path)
		}
		writeJSON(w, hourlyBody)
	})

	hs, err := c.Hourly(context.Background(), "116.41,39.92")
	if err != nil {
		t.Fatalf("Hourly: %v", err)
	}
	if len(hs) != 2 {
		t.Fatalf("len = %d, want 2", len(hs))
	}
	if hs[0].Pop == nil || *hs[0].Pop != 70 || hs[0].Precip != 0.5 {
		t.Fatalf("hs[0] = %+v", hs[0])
	}
	if hs[1].Pop != nil || hs[1].Cloud != nil {
		t.Fatalf("hs[1] optional fields should be nil: %+v", hs[1])
	}
}

func TestProviderCodes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		status int
		body   string
		code   string
		reason string
	}{
		{name: "unauthorized", status: 200, body: `{"code":"401"}`, code: "401", reason: "认证失败。"},
		{name: "not found", status: 200, body: `{"code":"404"}`, code: "404", reason: "查询的数据或地区不存在。"},
		{name: "unknown code", status: 200, body: `{"code":"999"}`, code: "999", reason: "未知错误 (999)"},
		{name: "http error", status: 502, body: `bad gateway`, reason: "连接失败"},
		{name: "empty lookup", status: 200, body: `{"code":"200","location":[]}`, code: "404", reason: "查询的数据或地区不存在。"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := c.Lookup(context.Background(), "x")
			if !errors.Is(err, weather.ErrQueryFailed) {
				t.Fatalf("err = %v, want ErrQueryFailed", err)
			}
			var qe *weather.QueryError
			if !errors.As(err, &qe) {
				t.Fatalf("err = %T", err)
			}
			if qe.Code != tt.code || qe.Reason != tt.reason {
				t.Fatalf("QueryError = %+v, want code %q reason %q", qe, tt.code, tt.reason)
			}
		})
	}
}

func TestBreakerOpensOnOutage(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := c.Now(ctx, "x"); weather.Reason(err) != reasonConnect {
			t.Fatalf("call %d: reason = %q", i, weather.Reason(err))
		}
	}
	_, err := c.Now(ctx, "x")
	if weather.Reason(err) != reasonBreaker {
		t.Fatalf("reason = %q, want breaker reason", weather.Reason(err))
	}
	if got := hits.Load(); got != 2 {
		t.Fatalf("upstream hits = %d, want 2", got)
	}
	if got := c.BreakerState(); got != "open" {
		t.Fatalf("BreakerState = %q, want open", got)
	}
}

func TestProviderCodeDoesNotTripBreaker(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(w, `{"code":"404"}`)
	})
	for i := 0; i < 4; i++ {
		_, _ = c.Lookup(context.Background(), "nowhere")
	}
	if got := hits.Load(); got != 4 {
		t.Fatalf("upstream hits = %d, want 4", got)
	}
	if got := c.BreakerState(); got != "closed" {
		t.Fatalf("BreakerState = %q, want closed", got)
	}
}

func TestNewRequiresKey(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty key")
	}
	c, err := New(Config{Key: "k", FreeSubscribe: true}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if c.cfg.WeatherBaseURL != devAPIBaseURL {
		t.Fatalf("WeatherBaseURL = %q", c.cfg.WeatherBaseURL)
	}
}
