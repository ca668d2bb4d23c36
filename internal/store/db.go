// Package store reads entity state from the platform database and keeps the
// search term audit log.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PoolConfig sizes the connection pool. Zero values fall back to defaults.
type PoolConfig struct {
	MaxOpenConns int
	MaxIdleConns int
}

// Open connects to databaseURL through the pgx driver and pings it.
func Open(ctx context.Context, databaseURL string, pools ...PoolConfig) (*sql.DB, error) {
	pool := PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5}
	for _, p := range pools {
		if p.MaxOpenConns > 0 {
			pool.MaxOpenConns = p.MaxOpenConns
		}
		if p.MaxIdleConns > 0 {
			pool.MaxIdleConns = p.MaxIdleConns
		}
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetMaxOpenConns(pool.MaxOpenConns)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}
