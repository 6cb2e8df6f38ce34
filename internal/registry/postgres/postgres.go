package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/superslots/internal/registry"
)

// DB implements registry.Store on PostgreSQL through the pgx stdlib driver.
type DB struct {
	db  *sql.DB
	now func() time.Time
}

var _ registry.Store = (*DB)(nil)

func New(dsn string, opts ...registry.Option) (*DB, error) {
	o := registry.ApplyOptions(opts...)
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, registry.Unavailable("open", err)
	}
	s := &DB{db: d, now: o.Now}
	timeout := o.BusyTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.EnsureSchema(ctx); err != nil {
		_ = d.Close()
		return nil, err
	}
	return s, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS register(
			pid INTEGER NOT NULL CHECK (pid > 1),
			slot TEXT NOT NULL,
			command TEXT NOT NULL,
			created TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (pid, slot)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_register_slot_created ON register(slot, created);`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return registry.Unavailable("ensure schema", err)
		}
	}
	return nil
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) Upsert(ctx context.Context, pid int, slot, command string) error {
	if err := registry.Validate(pid, slot); err != nil {
		return err
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO register(pid, slot, command, created)
		VALUES($1,$2,$3,$4)
		ON CONFLICT(pid, slot) DO UPDATE SET
			command=EXCLUDED.command,
			created=EXCLUDED.created;`,
		pid, slot, command, p.now().UTC())
	return registry.Unavailable("upsert", err)
}

func (p *DB) Delete(ctx context.Context, pid int, slot string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM register WHERE pid=$1 AND slot=$2;`, pid, slot)
	return registry.Unavailable("delete", err)
}

func (p *DB) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM register WHERE created <= $1;`, p.cutoff(age))
	if err != nil {
		return 0, registry.Unavailable("delete older than", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, registry.Unavailable("delete older than", err)
	}
	return n, nil
}

func (p *DB) ListAll(ctx context.Context) ([]registry.Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT pid, slot, command, created
		FROM register
		ORDER BY created, pid;`)
	if err != nil {
		return nil, registry.Unavailable("list", err)
	}
	defer rows.Close()
	out := make([]registry.Entry, 0)
	for rows.Next() {
		var e registry.Entry
		if err := rows.Scan(&e.PID, &e.Slot, &e.Command, &e.Created); err != nil {
			return nil, registry.Unavailable("list", err)
		}
		e.Created = e.Created.UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, registry.Unavailable("list", err)
	}
	return out, nil
}

func (p *DB) ListLiveCandidates(ctx context.Context, slot string, age time.Duration) ([]int, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT pid FROM register
		WHERE slot=$1 AND created > $2;`, slot, p.cutoff(age))
	if err != nil {
		return nil, registry.Unavailable("list candidates", err)
	}
	defer rows.Close()
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

func (p *DB) DropAll(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, `DROP TABLE IF EXISTS register;`); err != nil {
		return registry.Unavailable("drop", err)
	}
	return p.EnsureSchema(ctx)
}

func (p *DB) cutoff(age time.Duration) time.Time {
	return p.now().UTC().Add(-age)
}
