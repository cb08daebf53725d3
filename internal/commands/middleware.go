package commands

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	logx "github.com/iona-s/hefeng-weather/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so that m[0] is the outermost layer.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		if m[i] != nil {
			h = m[i](h)
		}
	}
	return h
}

// reqLog prefers the request's own logger, which carries the request id.
func reqLog(fallback logx.Logger, req *Request) logx.Logger {
	if req != nil && !req.Logger.IsZero() {
		return req.Logger
	}
	return fallback
}

func MWTimeout(d time.Duration) Middleware {
	if d <= 0 {
		return nil
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}

// MWPanicRecover turns a handler panic into an error.
func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				reqLog(log, req).Error("handler panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				err = fmt.Errorf("panic: %v", r)
			}()
			return next(ctx, req)
		}
	}
}

const slowRequest = 750 * time.Millisecond

// MWRequestLog logs failures at warn, slow requests at info, the rest at debug.
func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			took := time.Since(start)

			l := reqLog(log, req).With(logx.Int("args", len(req.Args)), logx.Duration("took", took))
			switch {
			case err != nil:
				l.Warn("command failed", logx.Err(err))
			case took >= slowRequest:
				l.Info("command done (slow)")
			default:
				l.Debug("command done")
			}
			return err
		}
	}
}

// userLimits is a token bucket per sender. Buckets idle for longer than
// idleAfter are dropped on the next sweep.
type userLimits struct {
	mu        sync.Mutex
	every     rate.Limit
	burst     int
	buckets   map[int64]*bucket
	lastSweep time.Time
	idleAfter time.Duration
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// newUserLimits allows perMinute commands per sender with a burst of the
// same size. perMinute <= 0 disables limiting.
func newUserLimits(perMinute int) *userLimits {
	if perMinute <= 0 {
		return nil
	}
	return &userLimits{
		every:     rate.Limit(float64(perMinute) / 60),
		burst:     perMinute,
		buckets:   map[int64]*bucket{},
		idleAfter: 10 * time.Minute,
	}
}

func (u *userLimits) allow(id int64, now time.Time) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if now.Sub(u.lastSweep) > u.idleAfter {
		for k, b := range u.buckets {
			if now.Sub(b.seen) > u.idleAfter {
				delete(u.buckets, k)
			}
		}
		u.lastSweep = now
	}
	b, ok := u.buckets[id]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(u.every, u.burst)}
		u.buckets[id] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

// MWUserLimit drops requests from senders over their budget. exempt senders
// (owners) are never limited. limited is called instead of the handler.
func MWUserLimit(u *userLimits, exempt func(int64) bool, limited HandlerFunc) Middleware {
	if u == nil {
		return nil
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			id := req.Msg.FromID
			if (exempt != nil && exempt(id)) || u.allow(id, time.Now()) {
				return next(ctx, req)
			}
			reqLog(logx.Nop(), req).Debug("command throttled")
			return limited(ctx, req)
		}
	}
}
