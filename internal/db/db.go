// Package db wraps pgxpool as the durable Album registry: the one piece of
// cluster state worth surviving a node restart. Images and tasks are
// intentionally not here: images live in internal/store on disk, and tasks
// are in-memory and lost on restart by design.
package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB holds the connection pool. Pool is exported so callers that need a
// transaction can reach it directly instead of routing every query through
// wrapper methods.
type DB struct {
	Pool *pgxpool.Pool
}

// New connects to databaseURL and verifies it with a ping before creating
// the albums table if it does not already exist.
func New(ctx context.Context, databaseURL string) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("db: parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("db: connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db: ping: %w", err)
	}
	slog.Info("database connection established", "max_conns", cfg.MaxConns)

	d := &DB{Pool: pool}
	if err := d.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return d, nil
}

// Close releases the pool.
func (d *DB) Close() {
	d.Pool.Close()
}

const schemaAlbums = `
CREATE TABLE IF NOT EXISTS albums (
	name                TEXT PRIMARY KEY,
	dht_key_length      SMALLINT NOT NULL,
	geocode_algorithm   TEXT NOT NULL,
	default_precision   INTEGER NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
)`

func (d *DB) migrate(ctx context.Context) error {
	if _, err := d.Pool.Exec(ctx, schemaAlbums); err != nil {
		return fmt.Errorf("db: create albums table: %w", err)
	}
	return nil
}
