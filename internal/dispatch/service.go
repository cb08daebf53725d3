// Package dispatch serializes outbound chat messages.
//
// One worker owns the queue, so delivery order equals enqueue order. After
// each send the worker pauses for a jittered interval. A failed send is
// logged and counted; it never reaches the caller and never stalls the queue.
package dispatch

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/iona-s/hefeng-weather/internal/runtime/supervisor"
	"github.com/iona-s/hefeng-weather/internal/transport"
	logx "github.com/iona-s/hefeng-weather/pkg/logx"
)

type Service struct {
	log    logx.Logger
	sender transport.Sender

	mu        sync.Mutex
	cfg       Config
	limiter   *rate.Limiter
	accepting bool
	started   bool
	sup       *supervisor.Supervisor
	stopDone  chan struct{} // non-nil once stopping
	enqWG     sync.WaitGroup

	queue chan Task

	sent    atomic.Uint64
	failed  atomic.Uint64
	retried atomic.Uint64
}

func New(cfg Config, sender transport.Sender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:       log.With(logx.String("comp", "dispatch")),
		sender:    sender,
		accepting: true,
	}
	s.applyLocked(cfg)
	s.queue = make(chan Task, s.cfg.QueueSize)
	return s
}

// Apply updates pacing and retry settings. The queue size is fixed at New.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	cfg = cfg.withDefaults()
	if s.queue != nil {
		cfg.QueueSize = cap(s.queue)
	}
	s.cfg = cfg
	s.limiter = nil
	if cfg.RatePerSec > 0 {
		burst := int(cfg.RatePerSec)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
}

func (s *Service) Stats() Stats {
	return Stats{
		Queued:  len(s.queue),
		Sent:    s.sent.Load(),
		Failed:  s.failed.Load(),
		Retried: s.retried.Load(),
	}
}

// Enqueue schedules text for delivery. Exactly one of reply and dest must be
// non-nil. It returns as soon as the task is queued; it blocks only while the
// queue is full, until ctx ends.
func (s *Service) Enqueue(ctx context.Context, text string, reply *transport.Message, dest *Destination) error {
	if (reply == nil) == (dest == nil) {
		return ErrInvalidDestination
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if !s.accepting {
		s.mu.Unlock()
		return ErrStopped
	}
	s.enqWG.Add(1)
	q := s.queue
	s.mu.Unlock()
	defer s.enqWG.Done()

	t := Task{ID: uuid.NewString(), Text: text, Reply: reply, EnqueuedAt: time.Now()}
	if dest != nil {
		d := *dest
		t.Dest = &d
	}
	select {
	case q <- t:
		s.log.Debug("dispatch queued", logx.String("task", t.ID), logx.Int("queued", len(q)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start launches the worker. It is idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || !s.accepting {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))
	sup := s.sup
	q := s.queue
	s.mu.Unlock()

	sup.GoRestart("worker", func(c context.Context) error {
		s.workerLoop(c, q)
		if c.Err() != nil {
			return c.Err()
		}
		s.mu.Lock()
		stopping := s.stopDone != nil
		s.mu.Unlock()
		if stopping {
			return nil
		}
		return errors.New("dispatch worker exited unexpectedly")
	}, supervisor.WithPublishFirstError(true))
}

// Stop refuses new tasks and drains the queue until ctx ends; then the
// worker is cancelled and whatever is left is dropped.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	sup := s.sup
	q := s.queue
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.enqWG.Wait()
		close(q)
		if sup != nil {
			_ = sup.Wait(context.Background())
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if sup != nil {
			sup.Cancel()
		}
		if n := len(q); n > 0 {
			s.log.Warn("dispatch stopped with pending tasks", logx.Int("dropped", n))
		}
	}
}

func (s *Service) workerLoop(ctx context.Context, q <-chan Task) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-q:
			if !ok {
				return
			}
			s.deliver(ctx, t)

			s.mu.Lock()
			interval := s.cfg.Interval
			s.mu.Unlock()
			if interval > 0 && !sleep(ctx, spacing(interval, rand.Float64())) {
				return
			}
		}
	}
}

// deliver makes up to 1+RetryMax attempts. Errors end here.
func (s *Service) deliver(ctx context.Context, t Task) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	log := s.log.With(logx.String("task", t.ID), logx.String("route", t.Route()))
	attempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return
			}
		}
		err := s.sendOnce(ctx, cfg.SendTimeout, t)
		if err == nil {
			s.sent.Add(1)
			log.Debug("dispatch sent", logx.Duration("waited", time.Since(t.EnqueuedAt)))
			return
		}
		lastErr = err
		if attempt == attempts || ctx.Err() != nil {
			break
		}
		s.retried.Add(1)
		if !sleep(ctx, retryDelay(cfg, attempt, rand.Float64())) {
			break
		}
	}
	s.failed.Add(1)
	log.Warn("dispatch send failed", logx.Err(&SendError{TaskID: t.ID, Attempts: attempts, Err: lastErr}))
}

func (s *Service) sendOnce(ctx context.Context, timeout time.Duration, t Task) (err error) {
	if s.sender == nil {
		return errors.New("no sender")
	}
	// A panicking transport must not take the worker down mid-queue.
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("sender panicked")
			s.log.Error("dispatch sender panicked", logx.String("task", t.ID), logx.Any("panic", r))
		}
	}()

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if t.Reply != nil {
		_, err = s.sender.Reply(cctx, t.Reply, t.Text, nil)
		return err
	}
	to, err := t.Dest.target()
	if err != nil {
		return err
	}
	_, err = s.sender.SendText(cctx, to, t.Text, nil)
	return err
}

// spacing maps u in [0,1) onto [0.9, 1.1] x interval.
func spacing(interval time.Duration, u float64) time.Duration {
	return time.Duration(float64(interval) * (0.9 + 0.2*u))
}

// retryDelay is RetryBase x 2^(attempt-1), capped, with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int, u float64) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(min(d, cfg.RetryMaxDelay)) * (0.7 + 0.6*u))
	return min(d, cfg.RetryMaxDelay)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
