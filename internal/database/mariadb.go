// Package database provides connection setup for MariaDB and Redis.
// Both connections are created once at startup and shared across the
// application via dependency injection. This package owns the connection
// lifecycle (open, configure pool, ping, close).
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	// MariaDB driver -- imported for side effect of registering the driver.
	_ "github.com/go-sql-driver/mysql"

	"github.com/jainabhi1607/loanease/internal/config"
)

// maxPingAttempts bounds the startup wait for MariaDB and Redis.
const maxPingAttempts = 10

// NewMariaDB opens the MariaDB pool described by cfg and waits for it to
// answer a ping. MariaDB is often still starting when the app container
// launches, so pings are retried with exponential backoff capped at 30s.
func NewMariaDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening mariadb connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := waitForPing("mariadb", maxPingAttempts, time.Second, db.PingContext); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// waitForPing calls ping until it succeeds, doubling the pause between
// attempts up to 30s. Each ping gets its own 5s deadline.
func waitForPing(name string, attempts int, backoff time.Duration, ping func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = ping(ctx)
		cancel()

		if err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		slog.Warn(name+" not ready, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff),
			slog.Any("error", err),
		)
		time.Sleep(backoff)
		backoff = min(backoff*2, 30*time.Second)
	}
	return fmt.Errorf("pinging %s after %d attempts: %w", name, attempts, err)
}
