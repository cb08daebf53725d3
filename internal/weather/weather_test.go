package weather

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/iona-s/hefeng-weather/internal/cache"
	logx "github.com/iona-s/hefeng-weather/pkg/logx"
)

type countingProvider struct {
	mu      sync.Mutex
	lookups []string
	nows    int
	hourly  int
}

func (p *countingProvider) Lookup(_ context.Context, q string) (City, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lookups = append(p.lookups, q)
	if q == "nowhere" {
		return City{}, &QueryError{Code: "404", Reason: "查询的数据或地区不存在。"}
	}
	return City{Name: "北京", ID: "101010100"}, nil
}

func (p *countingProvider) Now(context.Context, string) (Now, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nows++
	cloud := 30
	return Now{Temp: 20, Text: "晴", Cloud: &cloud}, nil
}

func (p *countingProvider) Hourly(context.Context, string) ([]Hourly, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hourly++
	return []Hourly{{Temp: 1}, {Temp: 2}}, nil
}

func TestResolve(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name     string
		args     []string
		location string
		display  string
		err      error
	}{
		{name: "city", args: []string{"beijing"}, location: "101010100", display: "北京"},
		{name: "coordinates", args: []string{"116.41", "39.92"}, location: "116.41,39.92", display: "北京 (116.41,39.92)"},
		{name: "bad number", args: []string{"east", "39"}, err: ErrInvalidArgument},
		{name: "out of range", args: []string{"181", "0"}, err: ErrInvalidArgument},
		{name: "no args", args: nil, err: ErrInvalidArgument},
		{name: "three args", args: []string{"a", "b", "c"}, err: ErrInvalidArgument},
		{name: "upstream failure", args: []string{"nowhere"}, err: ErrQueryFailed},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Resolve(ctx, &countingProvider{}, tt.args)
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Fatalf("err = %v, want %v", err, tt.err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if got.Location != tt.location || got.Name != tt.display {
				t.Fatalf("got %+v", got)
			}
		})
	}
}

func TestCachedServesRepeatCallsFromDisk(t *testing.T) {
	t.Parallel()
	p := &countingProvider{}
	c := NewCached(p, cache.New(cache.Config{Dir: t.TempDir()}, logx.Nop()), TTLs{}, "zh")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.Lookup(ctx, "beijing"); err != nil {
			t.Fatal(err)
		}
		if _, err := c.Now(ctx, "101010100"); err != nil {
			t.Fatal(err)
		}
		hs, err := c.Hourly(ctx, "101010100")
		if err != nil {
			t.Fatal(err)
		}
		if len(hs) != 2 || hs[1].Temp != 2 {
			t.Fatalf("hourly = %+v", hs)
		}
	}
	if len(p.lookups) != 1 || p.nows != 1 || p.hourly != 1 {
		t.Fatalf("upstream calls lookup=%d now=%d hourly=%d, want 1 each", len(p.lookups), p.nows, p.hourly)
	}
}

func TestCachedDoesNotStoreFailures(t *testing.T) {
	t.Parallel()
	p := &countingProvider{}
	c := NewCached(p, cache.New(cache.Config{Dir: t.TempDir()}, logx.Nop()), TTLs{}, "zh")
	for i := 0; i < 2; i++ {
		if _, err := c.Lookup(context.Background(), "nowhere"); !errors.Is(err, ErrQueryFailed) {
			t.Fatalf("err = %v", err)
		}
	}
	if len(p.lookups) != 2 {
		t.Fatalf("lookups = %d, want 2", len(p.lookups))
	}
}

func TestFormatNow(t *testing.T) {
	t.Parallel()
	cloud := 40
	got := FormatNow("北京", Now{Text: "多云", Temp: 24, FeelsLike: 26, Humidity: 40, Cloud: &cloud})
	want := "北京的天气：\n多云\n气温24℃\n体感温度26℃\n湿度40%\n云量40%"
	if got != want {
		t.Fatalf("FormatNow =\n%s\nwant\n%s", got, want)
	}
}

func TestFormatRain(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("CST", 8*3600)
	pop := 70
	got := FormatRain("北京", []Hourly{
		{FxTime: time.Date(2024, 6, 1, 13, 0, 0, 0, loc), Text: "小雨", Precip: 0.5, Pop: &pop},
		{FxTime: time.Date(2024, 6, 1, 14, 0, 0, 0, loc), Text: "多云"},
	})
	want := "北京的未来24h降雨：\n-> 13:00 小雨 0.5mm 70%\n-> 14:00 多云 0.0mm -"
	if got != want {
		t.Fatalf("FormatRain =\n%s\nwant\n%s", got, want)
	}
	if !strings.HasPrefix(FormatForecast("x", nil), "x未来0小时") {
		t.Fatalf("FormatForecast header wrong")
	}
}

func TestReason(t *testing.T) {
	t.Parallel()
	if got := Reason(&QueryError{Code: "401", Reason: "认证失败。"}); got != "认证失败。" {
		t.Fatalf("Reason = %q", got)
	}
	if got := Reason(errors.New("x")); got != "x" {
		t.Fatalf("Reason = %q", got)
	}
}
