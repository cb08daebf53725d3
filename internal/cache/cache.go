// Package cache memoizes upstream results on disk.
//
// Each entry is one file named after the MD5 fingerprint of the operation
// name and its arguments. The file holds the raw JSON of the result (a single
// record or an ordered slice of records) and nothing else; freshness is the
// file's modification time compared against the caller's TTL.
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	logx "github.com/iona-s/hefeng-weather/pkg/logx"
)

// Ext is the file extension of cache entries.
const Ext = ".cache"

const DefaultComputeTimeout = time.Minute

// ErrCorrupt is returned when an existing fresh entry cannot be decoded.
var ErrCorrupt = errors.New("cache entry corrupt")

// Arg is one named argument of a cached operation. Order matters: the same
// arguments in a different order produce a different fingerprint.
type Arg struct {
	Key   string
	Value any
}

// A is shorthand for building an Arg.
func A(key string, value any) Arg { return Arg{Key: key, Value: value} }

type Config struct {
	Dir string
	// ComputeTimeout bounds a single miss computation; 0 means
	// DefaultComputeTimeout. The computation does not end with the caller
	// that started it, so other callers waiting on it still get the result.
	ComputeTimeout time.Duration
}

type Option func(*Cache)

// WithClock replaces time.Now for freshness checks.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

type Cache struct {
	dir            string
	computeTimeout time.Duration
	now            func() time.Time
	log            logx.Logger

	group singleflight.Group
}

func New(cfg Config, log logx.Logger, opts ...Option) *Cache {
	if log.IsZero() {
		log = logx.Nop()
	}
	dir := strings.TrimSpace(cfg.Dir)
	if dir == "" {
		dir = "./cache"
	}
	if cfg.ComputeTimeout <= 0 {
		cfg.ComputeTimeout = DefaultComputeTimeout
	}
	c := &Cache{
		dir:            dir,
		computeTimeout: cfg.ComputeTimeout,
		now:            time.Now,
		log:            log.With(logx.String("comp", "cache")),
	}
	for _, o := range opts {
		if o != nil {
			o(c)
		}
	}
	return c
}

func (c *Cache) Dir() string { return c.dir }

// Path returns the file backing the given fingerprint.
func (c *Cache) Path(fingerprint string) string {
	return filepath.Join(c.dir, fingerprint+Ext)
}

// Fingerprint is md5hex(op + "k1=v1,k2=v2,..."). Values are rendered with
// fmt's default format.
func Fingerprint(op string, args []Arg) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		parts = append(parts, a.Key+"="+fmt.Sprint(a.Value))
	}
	sum := md5.Sum([]byte(op + strings.Join(parts, ",")))
	return hex.EncodeToString(sum[:])
}

// GetOrCompute returns the cached value for (op, args) when its entry is
// younger than ttl, otherwise it runs fn, stores the result and returns it.
//
// Concurrent misses of the same fingerprint in this process share one call
// of fn, which runs under the first caller's values but not its cancellation.
// A caller whose ctx ends stops waiting with ctx.Err(). Errors from fn are
// returned unchanged and nothing is stored.
func GetOrCompute[T any](ctx context.Context, c *Cache, op string, args []Arg, ttl time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if c == nil {
		return fn(ctx)
	}
	fp := Fingerprint(op, args)
	path := c.Path(fp)

	if v, ok, err := load[T](c, path, ttl); err != nil || ok {
		if ok {
			c.log.Debug("cache hit", logx.String("op", op), logx.String("fp", fp))
		}
		return v, err
	}

	flight := c.group.DoChan(fp, func() (res any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("cache: %s: compute panicked: %v", op, r)
			}
		}()
		// Another flight may have filled the entry while we were deciding.
		if v, ok, err := load[T](c, path, ttl); err != nil || ok {
			return v, err
		}

		// Detached from the first caller: it may leave while others wait.
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.computeTimeout)
		defer cancel()
		v, err := fn(cctx)
		if err != nil {
			return zero, err
		}
		if err := c.store(path, v); err != nil {
			c.log.Warn("cache write failed", logx.String("op", op), logx.String("path", path), logx.Err(err))
		}
		c.log.Debug("cache fill", logx.String("op", op), logx.String("fp", fp))
		return v, nil
	})

	var r singleflight.Result
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case r = <-flight:
	}
	if r.Err != nil {
		return zero, r.Err
	}
	v, ok := r.Val.(T)
	if !ok {
		return zero, fmt.Errorf("cache: %s: shared result has type %T", op, r.Val)
	}
	if r.Shared {
		c.log.Debug("cache miss shared", logx.String("op", op), logx.String("fp", fp))
	}
	return v, nil
}

// load reports (value, true, nil) on a fresh hit and (zero, false, nil) when
// the entry is absent or stale.
func load[T any](c *Cache, path string, ttl time.Duration) (T, bool, error) {
	var zero T
	st, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return zero, false, nil
		}
		return zero, false, err
	}
	if c.now().Sub(st.ModTime()) >= ttl {
		return zero, false, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return zero, false, nil
		}
		return zero, false, err
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return zero, false, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	return v, true, nil
}

func (c *Cache) store(path string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	// The rename keeps the temp file's mtime; stamp it with our clock so
	// freshness is measured from the write.
	now := c.now()
	_ = os.Chtimes(path, now, now)
	return nil
}
