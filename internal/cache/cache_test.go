package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	logx "github.com/iona-s/hefeng-weather/pkg/logx"
)

type record struct {
	Name string `json:"name"`
	Temp int    `json:"temp"`
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestCache(t *testing.T) (*Cache, *fakeClock) {
	t.Helper()
	clk := &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	return New(Config{Dir: t.TempDir()}, logx.Nop(), WithClock(clk.Now)), clk
}

func TestFingerprint(t *testing.T) {
	t.Parallel()

	a := Fingerprint("now", []Arg{A("location", "101010100"), A("lang", "zh")})
	b := Fingerprint("now", []Arg{A("location", "101010100"), A("lang", "zh")})
	if a != b {
		t.Fatalf("fingerprint not deterministic: %s != %s", a, b)
	}
	if len(a) != 32 {
		t.Fatalf("len(fingerprint) = %d, want 32", len(a))
	}
	swapped := Fingerprint("now", []Arg{A("lang", "zh"), A("location", "101010100")})
	if swapped == a {
		t.Fatalf("argument order must change the fingerprint")
	}
	other := Fingerprint("hourly", []Arg{A("location", "101010100"), A("lang", "zh")})
	if other == a {
		t.Fatalf("operation name must change the fingerprint")
	}
	sum := md5.Sum([]byte("lookuplocation=beijing,adm=,number=1"))
	want := hex.EncodeToString(sum[:])
	got := Fingerprint("lookup", []Arg{A("location", "beijing"), A("adm", ""), A("number", 1)})
	if got != want {
		t.Fatalf("Fingerprint = %q, want %q", got, want)
	}
}

func TestGetOrComputeIdempotent(t *testing.T) {
	t.Parallel()
	c, _ := newTestCache(t)
	ctx := context.Background()

	calls := 0
	fn := func(context.Context) (record, error) {
		calls++
		return record{Name: "Beijing", Temp: 21}, nil
	}
	args := []Arg{A("location", "101010100")}

	first, err := GetOrCompute(ctx, c, "now", args, 10*time.Minute, fn)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := GetOrCompute(ctx, c, "now", args, 10*time.Minute, fn)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if first != second {
		t.Fatalf("second = %+v, want %+v", second, first)
	}

	if _, err := os.Stat(c.Path(Fingerprint("now", args))); err != nil {
		t.Fatalf("entry file missing: %v", err)
	}
}

func TestGetOrComputeExpiry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		advance time.Duration
		want    int
	}{
		{name: "fresh", advance: 10 * time.Second, want: 1},
		{name: "stale", advance: 310 * time.Second, want: 2},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c, clk := newTestCache(t)
			ctx := context.Background()

			calls := 0
			fn := func(context.Context) ([]record, error) {
				calls++
				return []record{{Name: "h1", Temp: calls}}, nil
			}
			args := []Arg{A("location", "x")}
			if _, err := GetOrCompute(ctx, c, "hourly", args, 300*time.Second, fn); err != nil {
				t.Fatalf("fill: %v", err)
			}
			clk.Advance(tt.advance)
			got, err := GetOrCompute(ctx, c, "hourly", args, 300*time.Second, fn)
			if err != nil {
				t.Fatalf("second: %v", err)
			}
			if calls != tt.want {
				t.Fatalf("calls = %d, want %d", calls, tt.want)
			}
			if got[0].Temp != tt.want {
				t.Fatalf("Temp = %d, want %d", got[0].Temp, tt.want)
			}
		})
	}
}

func TestGetOrComputeBackdatedFileIsStale(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	c := New(Config{Dir: dir}, logx.Nop())
	ctx := context.Background()
	args := []Arg{A("location", "old")}

	calls := 0
	fn := func(context.Context) (record, error) {
		calls++
		return record{Name: "x"}, nil
	}
	if _, err := GetOrCompute(ctx, c, "now", args, time.Minute, fn); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-2 * time.Minute)
	if err := os.Chtimes(c.Path(Fingerprint("now", args)), old, old); err != nil {
		t.Fatal(err)
	}
	if _, err := GetOrCompute(ctx, c, "now", args, time.Minute, fn); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestGetOrComputeCorrupt(t *testing.T) {
	t.Parallel()
	c, _ := newTestCache(t)
	args := []Arg{A("location", "bad")}
	ctx := context.Background()

	if _, err := GetOrCompute(ctx, c, "now", args, time.Hour, func(context.Context) (record, error) {
		return record{Name: "ok"}, nil
	}); err != nil {
		t.Fatal(err)
	}
	path := c.Path(Fingerprint("now", args))
	st, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, st.ModTime(), st.ModTime()); err != nil {
		t.Fatal(err)
	}

	called := false
	_, err = GetOrCompute(ctx, c, "now", args, time.Hour, func(context.Context) (record, error) {
		called = true
		return record{}, nil
	})
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("err = %v, want ErrCorrupt", err)
	}
	if called {
		t.Fatalf("compute must not run on a corrupt hit")
	}
}

func TestGetOrComputeErrorNotStored(t *testing.T) {
	t.Parallel()
	c, _ := newTestCache(t)
	ctx := context.Background()
	args := []Arg{A("location", "e")}
	boom := errors.New("boom")

	_, err := GetOrCompute(ctx, c, "now", args, time.Hour, func(context.Context) (record, error) {
		return record{}, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if _, err := os.Stat(c.Path(Fingerprint("now", args))); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("entry written after failed compute: %v", err)
	}
}

func TestGetOrComputeSingleFlight(t *testing.T) {
	t.Parallel()
	c, _ := newTestCache(t)
	ctx := context.Background()
	args := []Arg{A("location", "sf")}

	var calls atomic.Int32
	release := make(chan struct{})
	fn := func(context.Context) (record, error) {
		calls.Add(1)
		<-release
		return record{Name: "sf"}, nil
	}

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	started := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started <- struct{}{}
			_, err := GetOrCompute(ctx, c, "now", args, time.Hour, fn)
			errs <- err
		}()
	}
	for i := 0; i < n; i++ {
		<-started
	}
	// Give the goroutines a moment to join the in-flight call.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("GetOrCompute: %v", err)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}

func TestComputeTimeout(t *testing.T) {
	t.Parallel()
	c := New(Config{Dir: t.TempDir(), ComputeTimeout: 20 * time.Millisecond}, logx.Nop())
	_, err := GetOrCompute(context.Background(), c, "now", nil, time.Hour, func(ctx context.Context) (record, error) {
		<-ctx.Done()
		return record{}, ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestSharedMissSurvivesFirstCallerCancel(t *testing.T) {
	t.Parallel()
	c, _ := newTestCache(t)
	args := []Arg{A("location", "cancel")}

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	fn := func(ctx context.Context) (record, error) {
		calls.Add(1)
		close(entered)
		select {
		case <-release:
			return record{Name: "kept"}, nil
		case <-ctx.Done():
			return record{}, ctx.Err()
		}
	}

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := GetOrCompute(ctxA, c, "hourly", args, time.Hour, fn)
		errA <- err
	}()
	<-entered

	type result struct {
		v   record
		err error
	}
	resB := make(chan result, 1)
	go func() {
		v, err := GetOrCompute(context.Background(), c, "hourly", args, time.Hour, fn)
		resB <- result{v, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelA()
	if err := <-errA; !errors.Is(err, context.Canceled) {
		t.Fatalf("caller A err = %v, want context.Canceled", err)
	}
	close(release)

	select {
	case r := <-resB:
		if r.err != nil || r.v.Name != "kept" {
			t.Fatalf("caller B = %+v, %v; want kept", r.v, r.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("caller B never returned")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
	if _, err := os.Stat(c.Path(Fingerprint("hourly", args))); err != nil {
		t.Fatalf("result not stored: %v", err)
	}
}

func TestComputePanicBecomesError(t *testing.T) {
	t.Parallel()
	c, _ := newTestCache(t)
	_, err := GetOrCompute(context.Background(), c, "now", []Arg{A("location", "p")}, time.Hour, func(context.Context) (record, error) {
		panic("kaboom")
	})
	if err == nil || !strings.Contains(err.Error(), "kaboom") {
		t.Fatalf("err = %v, want panic error", err)
	}
}
