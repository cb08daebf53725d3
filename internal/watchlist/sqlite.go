package watchlist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	logx "github.com/iona-s/hefeng-weather/pkg/logx"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS watcher (
	variant  INTEGER NOT NULL,
	identity TEXT    NOT NULL,
	PRIMARY KEY (variant, identity)
);
CREATE TABLE IF NOT EXISTS watch (
	variant  INTEGER NOT NULL,
	identity TEXT    NOT NULL,
	position INTEGER NOT NULL,
	location TEXT    NOT NULL,
	PRIMARY KEY (variant, identity, position)
);
`

// sqliteStore keeps identities in watcher (so emptied sets survive) and
// their ordered locations in watch.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (*sqliteStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		if strings.TrimSpace(cfg.Dir) == "" {
			return nil, errors.New("watchlist.path is required for sqlite driver")
		}
		path = filepath.Join(cfg.Dir, "watchlist.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer at a time suits SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), sqliteSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) load(ctx context.Context, v Variant) (Mapping, bool, error) {
	m := Mapping{}
	rows, err := s.db.QueryContext(ctx, `SELECT identity FROM watcher WHERE variant = ?`, int(v))
	if err != nil {
		return nil, false, err
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, false, err
		}
		m[id] = []string{}
	}
	if err := rows.Close(); err != nil {
		return nil, false, err
	}
	if len(m) == 0 {
		return m, false, nil
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT identity, location FROM watch WHERE variant = ? ORDER BY identity, position`, int(v))
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()
	for rows.Next() {
		var id, loc string
		if err := rows.Scan(&id, &loc); err != nil {
			return nil, false, err
		}
		m[id] = append(m[id], loc)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	return m, true, nil
}

// put rewrites only the changed identity's rows in one transaction.
func (s *sqliteStore) put(ctx context.Context, v Variant, m Mapping, identity string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO watcher(variant, identity) VALUES(?, ?) ON CONFLICT(variant, identity) DO NOTHING`,
		int(v), identity); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx,
		`DELETE FROM watch WHERE variant = ? AND identity = ?`, int(v), identity); err != nil {
		return err
	}
	for i, loc := range m[identity] {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO watch(variant, identity, position, location) VALUES(?, ?, ?, ?)`,
			int(v), identity, i, loc); err != nil {
			return err
		}
	}
	return tx.Commit()
}
