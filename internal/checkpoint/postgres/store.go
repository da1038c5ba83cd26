// Package postgres provides a Postgres-backed crawler.CheckpointStore.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/gamesdb-crawler/internal/crawler"
)

// DefaultTable is used when Config.Table is empty.
const DefaultTable = "crawl_checkpoints"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for checkpoint rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store writes one row per completed item. The primary key on
// (target, item_id) makes RecordCompleted idempotent.
type Store struct {
	pool  pool
	table string
	now   func() time.Time
}

// New connects to Postgres using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("checkpoint.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*Store, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: p, table: table, now: time.Now}, nil
}

// Migrate creates the checkpoint table when it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	target       TEXT        NOT NULL,
	item_id      TEXT        NOT NULL,
	run_id       TEXT        NOT NULL DEFAULT '',
	record       JSONB       NOT NULL DEFAULT '{}'::jsonb,
	completed_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (target, item_id)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create checkpoint table: %w", err)
	}
	return nil
}

// Load returns every completed item id for target.
func (s *Store) Load(ctx context.Context, target string) (crawler.CrawlState, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT item_id FROM %s WHERE target = $1`, s.table), target)
	if err != nil {
		return crawler.CrawlState{}, fmt.Errorf("query checkpoints: %w", err)
	}
	defer rows.Close()

	state := crawler.NewCrawlState(target)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return crawler.CrawlState{}, fmt.Errorf("scan checkpoint: %w", err)
		}
		state.Completed[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return crawler.CrawlState{}, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return state, nil
}

// RecordCompleted inserts the completion row. A row that already exists is
// left untouched.
func (s *Store) RecordCompleted(ctx context.Context, target, id string, record crawler.Record) error {
	if id == "" {
		return errors.New("checkpoint id is required")
	}
	if record == nil {
		record = crawler.Record{}
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (target, item_id, run_id, record, completed_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (target, item_id) DO NOTHING`, s.table)

	if _, err := s.pool.Exec(ctx, query, target, id, crawler.RunIDFromContext(ctx), payload, s.now().UTC()); err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

// IsCompleted reports whether a row exists for (target, id).
func (s *Store) IsCompleted(ctx context.Context, target, id string) (bool, error) {
	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE target = $1 AND item_id = $2)`, s.table)
	if err := s.pool.QueryRow(ctx, query, target, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("query checkpoint: %w", err)
	}
	return exists, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}
