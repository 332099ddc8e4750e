// Package database manages the PostgreSQL connection lifecycle: the boot-time
// readiness wait, schema migrations and pooled handle construction.
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/onevisitor/onevisitor/internal/config"
	"github.com/onevisitor/onevisitor/internal/logging"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Open connects to PostgreSQL and applies the pool settings. The handle is
// returned unverified; use WaitForReady before relying on it.
func Open(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}
	return db, nil
}

// WaitForReady pings the database at the configured interval until it answers
// or the wait timeout elapses. The container entrypoint used to do this with
// a shell loop; the bounded deadline replaces its unbounded retry.
func WaitForReady(ctx context.Context, db *sqlx.DB, cfg config.DatabaseConfig, log *logging.Logger) error {
	deadline := time.Now().Add(cfg.WaitTimeout)
	attempt := 0

	for {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, cfg.WaitInterval)
		err := db.PingContext(pingCtx)
		cancel()
		if err == nil {
			log.WithField("attempts", attempt).Info("database is ready")
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("database not ready after %s (%d attempts): %w", cfg.WaitTimeout, attempt, err)
		}

		log.WithError(err).WithField("attempt", attempt).
			Infof("waiting for database at %s:%d", cfg.Host, cfg.Port)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.WaitInterval):
		}
	}
}

// Migrate applies all pending embedded migrations. A clean no-op when the
// schema is already current.
func Migrate(db *sqlx.DB, log *logging.Logger) error {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("open migration source: %w", err)
	}

	driver, err := migratepg.WithInstance(db.DB, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("init migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("init migrator: %w", err)
	}

	version, dirty, _ := m.Version()
	if dirty {
		return fmt.Errorf("schema is dirty at version %d; refusing to migrate", version)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info("schema is up to date")
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, _, _ = m.Version()
	log.WithField("version", version).Info("schema migrated")
	return nil
}
