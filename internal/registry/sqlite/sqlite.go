package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/superslots/internal/registry"
)

// DB implements registry.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// The path is a filesystem path to the database file; ":memory:" is accepted for tests.
// Timestamps are stored as unix nanoseconds so that age comparisons stay numeric.
type DB struct {
	db  *sql.DB
	now func() time.Time
}

var _ registry.Store = (*DB)(nil)

// New opens (creating if needed) the SQLite database at path and ensures the schema.
func New(path string, opts ...registry.Option) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	o := registry.ApplyOptions(opts...)
	memory := p == ":memory:"
	if !memory {
		if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
			return nil, registry.Unavailable("create state dir", err)
		}
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, registry.Unavailable("open", err)
	}
	// one connection: pragmas are per-connection and :memory: is per-connection too
	d.SetMaxOpenConns(1)

	ctx := context.Background()
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout=%d;", o.BusyTimeout.Milliseconds()),
	}
	if !memory {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL;")
	}
	for _, q := range pragmas {
		if _, err := d.ExecContext(ctx, q); err != nil {
			_ = d.Close()
			return nil, registry.Unavailable("pragma", err)
		}
	}
	s := &DB{db: d, now: o.Now}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = d.Close()
		return nil, err
	}
	return s, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS register(
			pid INTEGER NOT NULL CHECK (pid > 1),
			slot TEXT NOT NULL,
			command TEXT NOT NULL,
			created INTEGER NOT NULL,
			PRIMARY KEY (pid, slot)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_register_slot_created ON register(slot, created);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return registry.Unavailable("ensure schema", err)
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) Upsert(ctx context.Context, pid int, slot, command string) error {
	if err := registry.Validate(pid, slot); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO register(pid, slot, command, created)
		VALUES(?, ?, ?, ?)
		ON CONFLICT(pid, slot) DO UPDATE SET
			command=excluded.command,
			created=excluded.created;`,
		pid, slot, command, s.now().UTC().UnixNano())
	return registry.Unavailable("upsert", err)
}

func (s *DB) Delete(ctx context.Context, pid int, slot string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM register WHERE pid=? AND slot=?;`, pid, slot)
	return registry.Unavailable("delete", err)
}

func (s *DB) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM register WHERE created <= ?;`, s.cutoff(age))
	if err != nil {
		return 0, registry.Unavailable("delete older than", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, registry.Unavailable("delete older than", err)
	}
	return n, nil
}

func (s *DB) ListAll(ctx context.Context) ([]registry.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pid, slot, command, created
		FROM register
		ORDER BY created, pid;`)
	if err != nil {
		return nil, registry.Unavailable("list", err)
	}
	defer func() { _ = rows.Close() }()
	out := make([]registry.Entry, 0)
	for rows.Next() {
		var (
			e       registry.Entry
			created int64
		)
		if err := rows.Scan(&e.PID, &e.Slot, &e.Command, &created); err != nil {
			return nil, registry.Unavailable("list", err)
		}
		e.Created = time.Unix(0, created).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, registry.Unavailable("list", err)
	}
	return out, nil
}

func (s *DB) ListLiveCandidates(ctx context.Context, slot string, age time.Duration) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pid FROM register
		WHERE slot=? AND created > ?;`, slot, s.cutoff(age))
	if err != nil {
		return nil, registry.Unavailable("list candidates", err)
	}
	defer func() { _ = rows.Close() }()
	pids := make([]int, 0)
	for rows.Next() {
		var pid int
		if err := rows.Scan(&pid); err != nil {
			return nil, registry.Unavailable("list candidates", err)
		}
		pids = append(pids, pid)
	}
	if err := rows.Err(); err != nil {
		return nil, registry.Unavailable("list candidates", err)
	}
	return pids, nil
}

// DropAll drops the table and recreates an empty one so the handle stays usable.
func (s *DB) DropAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS register;`); err != nil {
		return registry.Unavailable("drop", err)
	}
	return s.EnsureSchema(ctx)
}

func (s *DB) cutoff(age time.Duration) int64 {
	return s.now().UTC().Add(-age).UnixNano()
}
