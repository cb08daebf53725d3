package dispatch

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/iona-s/hefeng-weather/internal/transport"
	logx "github.com/iona-s/hefeng-weather/pkg/logx"
)

type fakeSender struct {
	mu      sync.Mutex
	texts   []string
	targets []transport.ChatTarget
	replies []int
	failOn  map[string]error
}

func (f *fakeSender) record(to transport.ChatTarget, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	f.targets = append(f.targets, to)
	return f.failOn[text]
}

func (f *fakeSender) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	if err := f.record(to, text); err != nil {
		return transport.MessageRef{}, err
	}
	return transport.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func (f *fakeSender) Reply(_ context.Context, msg *transport.Message, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	f.replies = append(f.replies, msg.ID)
	f.mu.Unlock()
	if err := f.record(msg.Target(), text); err != nil {
		return transport.MessageRef{}, err
	}
	return transport.MessageRef{ChatID: msg.ChatID, MessageID: 2}, nil
}

func (f *fakeSender) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func drain(t *testing.T, s *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	if ctx.Err() != nil {
		t.Fatalf("dispatcher did not drain in time")
	}
}

func TestFIFOWithFailingFirstSend(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{failOn: map[string]error{"A": errors.New("network down")}}
	s := New(Config{}, fs, logx.Nop())
	ctx := context.Background()
	dest := &Destination{Kind: KindGroup, ID: "-100"}

	for _, txt := range []string{"A", "B", "C"} {
		if err := s.Enqueue(ctx, txt, nil, dest); err != nil {
			t.Fatalf("Enqueue(%s): %v", txt, err)
		}
	}
	s.Start(ctx)
	drain(t, s)

	if got, want := fs.sentTexts(), []string{"A", "B", "C"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("send order = %v, want %v", got, want)
	}
	st := s.Stats()
	if st.Sent != 2 || st.Failed != 1 {
		t.Fatalf("stats = %+v, want sent=2 failed=1", st)
	}
	if fs.targets[1].ChatID != -100 {
		t.Fatalf("ChatID = %d, want -100", fs.targets[1].ChatID)
	}
}

func TestFailuresDoNotStopLaterTasks(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	fs := &fakeSender{failOn: map[string]error{"1": boom, "2": boom, "4": boom}}
	s := New(Config{}, fs, logx.Nop())
	ctx := context.Background()
	s.Start(ctx)

	for _, txt := range []string{"1", "2", "3", "4", "5"} {
		if err := s.Enqueue(ctx, txt, nil, &Destination{Kind: KindPrivate, ID: "7"}); err != nil {
			t.Fatal(err)
		}
	}
	drain(t, s)
	if got := len(fs.sentTexts()); got != 5 {
		t.Fatalf("attempted %d sends, want 5", got)
	}
	if st := s.Stats(); st.Sent != 2 || st.Failed != 3 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestRetryMax(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{failOn: map[string]error{"x": errors.New("flaky")}}
	s := New(Config{RetryMax: 2, RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond}, fs, logx.Nop())
	ctx := context.Background()
	s.Start(ctx)
	if err := s.Enqueue(ctx, "x", nil, &Destination{ID: "1"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Enqueue(ctx, "y", nil, &Destination{ID: "1"}); err != nil {
		t.Fatal(err)
	}
	drain(t, s)
	if got, want := fs.sentTexts(), []string{"x", "x", "x", "y"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("sends = %v, want %v", got, want)
	}
	if st := s.Stats(); st.Retried != 2 || st.Failed != 1 || st.Sent != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestReplyDestination(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{}
	s := New(Config{}, fs, logx.Nop())
	ctx := context.Background()
	s.Start(ctx)
	msg := &transport.Message{ID: 99, ChatID: 5, ThreadID: 3}
	if err := s.Enqueue(ctx, "hi", msg, nil); err != nil {
		t.Fatal(err)
	}
	drain(t, s)
	if len(fs.replies) != 1 || fs.replies[0] != 99 {
		t.Fatalf("replies = %v, want [99]", fs.replies)
	}
	if fs.targets[0] != (transport.ChatTarget{ChatID: 5, ThreadID: 3}) {
		t.Fatalf("target = %+v", fs.targets[0])
	}
}

func TestInvalidDestination(t *testing.T) {
	t.Parallel()
	s := New(Config{}, &fakeSender{}, logx.Nop())
	ctx := context.Background()

	if err := s.Enqueue(ctx, "x", nil, nil); !errors.Is(err, ErrInvalidDestination) {
		t.Fatalf("neither: err = %v", err)
	}
	if err := s.Enqueue(ctx, "x", &transport.Message{ID: 1}, &Destination{ID: "1"}); !errors.Is(err, ErrInvalidDestination) {
		t.Fatalf("both: err = %v", err)
	}
	if st := s.Stats(); st.Queued != 0 {
		t.Fatalf("Queued = %d, want 0", st.Queued)
	}
}

func TestBadDestinationIDIsLoggedNotReturned(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{}
	s := New(Config{}, fs, logx.Nop())
	ctx := context.Background()
	s.Start(ctx)
	if err := s.Enqueue(ctx, "a", nil, &Destination{ID: "not-a-number"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := s.Enqueue(ctx, "b", nil, &Destination{ID: "3"}); err != nil {
		t.Fatal(err)
	}
	drain(t, s)
	if got := fs.sentTexts(); !reflect.DeepEqual(got, []string{"b"}) {
		t.Fatalf("sends = %v, want [b]", got)
	}
	if st := s.Stats(); st.Failed != 1 {
		t.Fatalf("Failed = %d, want 1", st.Failed)
	}
}

func TestEnqueueAfterStop(t *testing.T) {
	t.Parallel()
	s := New(Config{}, &fakeSender{}, logx.Nop())
	s.Start(context.Background())
	drain(t, s)
	if err := s.Enqueue(context.Background(), "late", nil, &Destination{ID: "1"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
}

func TestEnqueueFullQueueHonorsContext(t *testing.T) {
	t.Parallel()
	s := New(Config{QueueSize: 1}, &fakeSender{}, logx.Nop())
	if err := s.Enqueue(context.Background(), "1", nil, &Destination{ID: "1"}); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Enqueue(ctx, "2", nil, &Destination{ID: "1"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestSpacingBounds(t *testing.T) {
	t.Parallel()
	interval := 500 * time.Millisecond
	lo, hi := 450*time.Millisecond, 550*time.Millisecond
	for _, u := range []float64{0, 0.25, 0.5, 0.999999} {
		d := spacing(interval, u)
		if d < lo || d > hi {
			t.Fatalf("spacing(%v, %v) = %v, want within [%v, %v]", interval, u, d, lo, hi)
		}
	}
	if got := spacing(interval, 0); got != lo {
		t.Fatalf("spacing(u=0) = %v, want %v", got, lo)
	}
}

func TestPacedSendsAreSpaced(t *testing.T) {
	t.Parallel()
	var (
		mu    sync.Mutex
		times []time.Time
	)
	fs := &timingSender{on: func() {
		mu.Lock()
		times = append(times, time.Now())
		mu.Unlock()
	}}
	s := New(Config{Interval: 40 * time.Millisecond}, fs, logx.Nop())
	ctx := context.Background()
	s.Start(ctx)
	for i := 0; i < 3; i++ {
		if err := s.Enqueue(ctx, "t", nil, &Destination{ID: "1"}); err != nil {
			t.Fatal(err)
		}
	}
	drain(t, s)
	mu.Lock()
	defer mu.Unlock()
	if len(times) != 3 {
		t.Fatalf("sends = %d, want 3", len(times))
	}
	for i := 1; i < len(times); i++ {
		if gap := times[i].Sub(times[i-1]); gap < 36*time.Millisecond {
			t.Fatalf("gap %d = %v, want >= 36ms", i, gap)
		}
	}
}

func TestRetryDelayCapped(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: 300 * time.Millisecond}.withDefaults()
	if d := retryDelay(cfg, 1, 0.5); d != 100*time.Millisecond {
		t.Fatalf("retryDelay(1) = %v, want 100ms", d)
	}
	if d := retryDelay(cfg, 10, 1); d != 300*time.Millisecond {
		t.Fatalf("retryDelay(10) = %v, want cap 300ms", d)
	}
}

type timingSender struct{ on func() }

func (s *timingSender) SendText(context.Context, transport.ChatTarget, string, *transport.SendOptions) (transport.MessageRef, error) {
	s.on()
	return transport.MessageRef{}, nil
}

func (s *timingSender) Reply(context.Context, *transport.Message, string, *transport.SendOptions) (transport.MessageRef, error) {
	s.on()
	return transport.MessageRef{}, nil
}

func TestTaskRoute(t *testing.T) {
	t.Parallel()
	tests := []struct {
		task Task
		want string
	}{
		{task: Task{Reply: &transport.Message{ID: 1}}, want: "reply"},
		{task: Task{Dest: &Destination{Kind: KindGroup, ID: "-100"}}, want: "group:-100"},
		{task: Task{Dest: &Destination{Kind: KindPrivate, ID: "7"}}, want: "private:7"},
	}
	for _, tt := range tests {
		if got := tt.task.Route(); got != tt.want {
			t.Errorf("Route() = %q, want %q", got, tt.want)
		}
	}
}
