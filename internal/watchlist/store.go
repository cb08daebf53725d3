// Package watchlist persists who watches which locations.
//
// Two lists are kept: per-group subscription sets (Multi) read by the digest
// and per-user default locations (Single) read by chat commands. Every
// mutation re-reads the backend, applies the change and writes it back under
// a per-variant mutex.
package watchlist

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	logx "github.com/iona-s/hefeng-weather/pkg/logx"
)

// backend loads and persists one variant's mapping. put receives the full
// mapping plus the identity that changed.
type backend interface {
	load(ctx context.Context, v Variant) (Mapping, bool, error)
	put(ctx context.Context, v Variant, m Mapping, identity string) error
	Close() error
}

type Store struct {
	b   backend
	log logx.Logger

	mu [2]sync.Mutex
}

// Open initializes the configured backend.
func Open(cfg Config, log logx.Logger) (*Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "watchlist"))

	var (
		b   backend
		err error
	)
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "file":
		b, err = openFile(cfg)
	case "sqlite", "sqlite3":
		b, err = openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown watchlist driver: " + driver)
	}
	if err != nil {
		return nil, err
	}
	log.Debug("watchlist opened", logx.String("driver", driver))
	return &Store{b: b, log: log}, nil
}

func (s *Store) Close() error {
	if s == nil || s.b == nil {
		return nil
	}
	return s.b.Close()
}

// List returns the whole mapping of a variant; ok is false when nothing was
// ever written.
func (s *Store) List(ctx context.Context, v Variant) (Mapping, bool, error) {
	if !v.valid() {
		return nil, false, fmt.Errorf("watchlist: bad variant %s", v)
	}
	return s.b.load(ctx, v)
}

// Get returns one identity's locations.
func (s *Store) Get(ctx context.Context, v Variant, identity string) ([]string, bool, error) {
	m, _, err := s.List(ctx, v)
	if err != nil {
		return nil, false, err
	}
	locs, ok := m[strings.TrimSpace(identity)]
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(locs), true, nil
}

// Default returns a user's single-variant location, "" when unset.
func (s *Store) Default(ctx context.Context, identity string) (string, error) {
	locs, ok, err := s.Get(ctx, Single, identity)
	if err != nil || !ok || len(locs) == 0 {
		return "", err
	}
	return locs[0], nil
}

// Add watches location for identity. For Single it replaces the previous
// default. Watching the current value again is ErrDuplicateWatch.
func (s *Store) Add(ctx context.Context, v Variant, identity, location string) error {
	return s.mutate(ctx, v, identity, func(m Mapping, identity string) error {
		cur, seen := m[identity]
		switch v {
		case Multi:
			if slices.Contains(cur, location) {
				return ErrDuplicateWatch
			}
			m[identity] = append(cur, location)
		case Single:
			if seen && len(cur) > 0 && cur[0] == location {
				return ErrDuplicateWatch
			}
			m[identity] = []string{location}
		}
		return nil
	})
}

// Remove stops watching location. Multi keeps the (possibly empty) identity
// entry; Single clears the value to "".
func (s *Store) Remove(ctx context.Context, v Variant, identity, location string) error {
	return s.mutate(ctx, v, identity, func(m Mapping, identity string) error {
		cur, seen := m[identity]
		if !seen {
			return ErrWatchNotFound
		}
		switch v {
		case Multi:
			i := slices.Index(cur, location)
			if i < 0 {
				return ErrWatchNotFound
			}
			m[identity] = slices.Delete(cur, i, i+1)
		case Single:
			if len(cur) == 0 || cur[0] != location {
				return ErrWatchNotFound
			}
			m[identity] = []string{""}
		}
		return nil
	})
}

// mutate runs fn on a fresh copy of the variant's mapping and persists the
// result. fn gets the trimmed identity, the key every backend stores.
func (s *Store) mutate(ctx context.Context, v Variant, identity string, fn func(m Mapping, identity string) error) error {
	if !v.valid() {
		return fmt.Errorf("watchlist: bad variant %s", v)
	}
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return errors.New("watchlist: empty identity")
	}

	mu := &s.mu[v]
	mu.Lock()
	defer mu.Unlock()

	m, _, err := s.b.load(ctx, v)
	if err != nil {
		return err
	}
	if m == nil {
		m = Mapping{}
	}
	if err := fn(m, identity); err != nil {
		return err
	}
	if err := s.b.put(ctx, v, m, identity); err != nil {
		return fmt.Errorf("watchlist: persist %s: %w", v, err)
	}
	s.log.Debug("watchlist updated", logx.String("variant", v.String()), logx.String("identity", identity))
	return nil
}
