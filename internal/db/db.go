package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dravenops/hashhive/backend/pkg/debug"
	_ "github.com/lib/pq"
)

// DB wraps sql.DB so repositories share one handle type.
type DB struct {
	*sql.DB
}

// Connect opens a Postgres connection and verifies it with a ping. The
// server cannot operate without the store, so connection failures after the
// retry window are fatal to the caller.
func Connect(dsn string) (*DB, error) {
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	// The database container may still be starting; retry briefly.
	var pingErr error
	for attempt := 1; attempt <= 5; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		pingErr = sqlDB.PingContext(ctx)
		cancel()
		if pingErr == nil {
			break
		}
		debug.Warning("Database ping attempt %d failed: %v", attempt, pingErr)
		time.Sleep(time.Duration(attempt) * time.Second)
	}
	if pingErr != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", pingErr)
	}

	debug.Info("Database connection established")
	return &DB{sqlDB}, nil
}
