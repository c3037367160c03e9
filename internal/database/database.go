// Package database opens the PostgreSQL pool and applies schema migrations.
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" //nolint:blankimports // PostgreSQL driver

	infralogger "github.com/jonesrussell/site-auditor/infrastructure/logger"
	"github.com/jonesrussell/site-auditor/infrastructure/retry"
	"github.com/jonesrussell/site-auditor/internal/config"
	"github.com/jonesrussell/site-auditor/migrations"
)

// Connect opens the pool and pings it, retrying transient failures.
func Connect(ctx context.Context, cfg config.DatabaseConfig, log infralogger.Logger) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	retryCfg := retry.DefaultConfig()
	retryCfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		log.Warn("Database not ready, retrying",
			infralogger.Int("attempt", attempt),
			infralogger.Duration("delay", delay),
			infralogger.Error(err),
		)
	}
	pingErr := retry.Do(ctx, retryCfg, func(ctx context.Context) error {
		return db.PingContext(ctx)
	})
	if pingErr != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", pingErr)
	}

	log.Info("Database connection established",
		infralogger.String("host", cfg.Host),
		infralogger.Int("port", cfg.Port),
		infralogger.String("dbname", cfg.DBName),
	)
	return db, nil
}

// Direction is a migration direction.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// Migrate applies the embedded migrations over an open connection.
func Migrate(db *sqlx.DB, direction Direction, log infralogger.Logger) error {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("open migration source: %w", err)
	}
	driver, err := migratepg.WithInstance(db.DB, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("open migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	switch direction {
	case Up:
		err = m.Up()
	case Down:
		err = m.Down()
	default:
		return fmt.Errorf("unknown migration direction %q", direction)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate %s: %w", direction, err)
	}

	version, dirty, verErr := m.Version()
	if verErr != nil && !errors.Is(verErr, migrate.ErrNilVersion) {
		return fmt.Errorf("read migration version: %w", verErr)
	}
	log.Info("Migrations applied",
		infralogger.String("direction", string(direction)),
		infralogger.Int64("version", int64(version)),
		infralogger.Bool("dirty", dirty),
	)
	return nil
}
