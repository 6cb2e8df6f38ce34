// Package clickhouse is a history sink for the ClickHouse native protocol.
package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/superslots/internal/history"
)

// Config locates the events table. Empty fields take ClickHouse defaults.
type Config struct {
	Addr     string // host:port, default localhost:9000
	Database string
	Username string
	Password string
	Table    string // default slot_history
}

type Sink struct {
	conn  driver.Conn
	table string
}

// New connects and pings. The table is not created; see EnsureTable.
func New(cfg Config) (*Sink, error) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:9000"
	}
	if cfg.Database == "" {
		cfg.Database = "default"
	}
	if cfg.Username == "" {
		cfg.Username = "default"
	}
	if cfg.Table == "" {
		cfg.Table = "slot_history"
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse %s: %w", cfg.Addr, err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping clickhouse %s: %w", cfg.Addr, err)
	}
	return &Sink{conn: conn, table: cfg.Table}, nil
}

// EnsureTable creates the events table when missing.
func (s *Sink) EnsureTable(ctx context.Context) error {
	return s.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+s.table+` (
			id String,
			type LowCardinality(String),
			occurred_at DateTime64(6),
			pid UInt32,
			slot String,
			command String,
			outcome LowCardinality(String),
			exit_code Int32,
			count Int64
		) ENGINE = MergeTree()
		ORDER BY (slot, occurred_at)
	`)
}

func (s *Sink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// Send inserts one event. Events are rare (one per registration, trigger or
// run), so rows are not batched.
func (s *Sink) Send(ctx context.Context, e history.Event) error {
	err := s.conn.Exec(ctx,
		"INSERT INTO "+s.table+" (id, type, occurred_at, pid, slot, command, outcome, exit_code, count) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		e.ID, string(e.Type), e.OccurredAt, uint32(e.PID), e.Slot, e.Command, e.Outcome, int32(e.ExitCode), e.Count,
	)
	if err != nil {
		return fmt.Errorf("insert %s event: %w", e.Type, err)
	}
	return nil
}
