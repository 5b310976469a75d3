package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	_ "modernc.org/sqlite" // pure Go driver registered as "sqlite"
)

// SQLiteFile is the file the sqlite engine creates under its prefix.
const SQLiteFile = "sofa.sqlite"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS dbs (
	name TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS docs (
	db   TEXT NOT NULL REFERENCES dbs(name) ON DELETE CASCADE,
	id   TEXT NOT NULL,
	body BLOB NOT NULL,
	PRIMARY KEY (db, id)
);`

type sqliteEngine struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the sqlite file under opts.Prefix.
// The directory must already exist.
func OpenSQLite(ctx context.Context, opts Options) (Backend, error) {
	path := filepath.Join(opts.Prefix, SQLiteFile)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("backend: open sqlite %s: %w", path, err)
	}
	// One connection keeps pragmas and transactions on the same handle.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("backend: sqlite %s: %w", p, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("backend: sqlite schema: %w", err)
	}
	return newDocStore("sqlite", &sqliteEngine{db: db}), nil
}

func (s *sqliteEngine) createDB(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO dbs (name) VALUES (?)`, name)
	if err != nil {
		return fmt.Errorf("backend: create db: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDBExists
	}
	return nil
}

func (s *sqliteEngine) dropDB(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM dbs WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("backend: drop db: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDBNotFound
	}
	return nil
}

func (s *sqliteEngine) listDBs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM dbs ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("backend: list dbs: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (s *sqliteEngine) exists(ctx context.Context, name string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM dbs WHERE name = ?`, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrDBNotFound
	}
	return err
}

func (s *sqliteEngine) get(ctx context.Context, name, id string) ([]byte, error) {
	if err := s.exists(ctx, name); err != nil {
		return nil, err
	}
	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT body FROM docs WHERE db = ? AND id = ?`, name, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("backend: get doc: %w", err)
	}
	return body, nil
}

func (s *sqliteEngine) put(ctx context.Context, name, id string, value []byte) error {
	if err := s.exists(ctx, name); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO docs (db, id, body) VALUES (?, ?, ?)
		 ON CONFLICT (db, id) DO UPDATE SET body = excluded.body`,
		name, id, value)
	if err != nil {
		return fmt.Errorf("backend: put doc: %w", err)
	}
	return nil
}

func (s *sqliteEngine) scan(ctx context.Context, name string, fn func(string, []byte) error) error {
	if err := s.exists(ctx, name); err != nil {
		return err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, body FROM docs WHERE db = ? ORDER BY id`, name)
	if err != nil {
		return fmt.Errorf("backend: scan docs: %w", err)
	}
	defer rows.Close()

	// Collect first: fn must not run while the single connection is busy.
	type kv struct {
		id   string
		body []byte
	}
	var all []kv
	for rows.Next() {
		var e kv
		if err := rows.Scan(&e.id, &e.body); err != nil {
			return err
		}
		all = append(all, e)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	for _, e := range all {
		if err := fn(e.id, e.body); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteEngine) close() error {
	return s.db.Close()
}
