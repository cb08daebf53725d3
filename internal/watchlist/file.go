package watchlist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	multiFile  = "group_watch_list.json"
	singleFile = "self_watch_list.json"
)

// fileStore keeps each variant in one JSON document:
//   - group_watch_list.json: {"<id>": ["<loc>", ...]}
//   - self_watch_list.json:  {"<id>": "<loc>"}
//
// Documents are rewritten whole through a temp file and rename.
type fileStore struct {
	dir string
}

func openFile(cfg Config) (*fileStore, error) {
	dir := strings.TrimSpace(cfg.Dir)
	if dir == "" {
		dir = "./data"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &fileStore{dir: dir}, nil
}

func (s *fileStore) path(v Variant) string {
	if v == Single {
		return filepath.Join(s.dir, singleFile)
	}
	return filepath.Join(s.dir, multiFile)
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) load(ctx context.Context, v Variant) (Mapping, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	p := s.path(v)
	b, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return Mapping{}, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	m := Mapping{}
	switch v {
	case Multi:
		var doc map[string][]string
		if err := json.Unmarshal(b, &doc); err != nil {
			return nil, false, fmt.Errorf("watchlist: decode %s: %w", p, err)
		}
		for id, locs := range doc {
			if locs == nil {
				locs = []string{}
			}
			m[id] = locs
		}
	case Single:
		var doc map[string]string
		if err := json.Unmarshal(b, &doc); err != nil {
			return nil, false, fmt.Errorf("watchlist: decode %s: %w", p, err)
		}
		for id, loc := range doc {
			m[id] = []string{loc}
		}
	}
	return m, true, nil
}

func (s *fileStore) put(ctx context.Context, v Variant, m Mapping, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var doc any
	switch v {
	case Multi:
		out := make(map[string][]string, len(m))
		for id, locs := range m {
			if locs == nil {
				locs = []string{}
			}
			out[id] = locs
		}
		doc = out
	case Single:
		out := make(map[string]string, len(m))
		for id, locs := range m {
			loc := ""
			if len(locs) > 0 {
				loc = locs[0]
			}
			out[id] = loc
		}
		doc = out
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.path(v), b)
}

func writeFileAtomic(path string, b []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
