// Package database opens the record store's Postgres connection and runs
// schema migrations. The handle is an explicit *Database passed to every
// repository; there is no package-level connection singleton.
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"iaros/payee-enrichment-engine/internal/models"
)

// Database wraps the gorm handle for the Record Store.
type Database struct {
	DB *gorm.DB
}

// Connect opens a Postgres connection using dsn (the config surface's
// DATABASE_URL).
func Connect(dsn string) (*Database, error) {
	gormDB, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connect to record store: %w", err)
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	return &Database{DB: gormDB}, nil
}

// Migrate applies the versioned SQL migrations under migrationsDir via
// golang-migrate, the production alternative to AutoMigrate. An
// already-current schema is not an error.
func (d *Database) Migrate(migrationsDir string) error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("unwrap sql.DB: %w", err)
	}
	driver, err := migratepg.WithInstance(sqlDB, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("init migration driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsDir, "postgres", driver)
	if err != nil {
		return fmt.Errorf("open migrations at %s: %w", migrationsDir, err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// AutoMigrate creates/updates the Record Store's tables for local
// development parity with the versioned migrations Migrate applies.
func (d *Database) AutoMigrate() error {
	return d.DB.AutoMigrate(
		&models.Batch{},
		&models.Record{},
		&models.KnownSupplier{},
		&models.ExclusionKeyword{},
		&models.AsyncSearchRequest{},
		&models.WebhookEvent{},
	)
}

// Ping verifies the connection pool can still reach Postgres, the check
// behind the HTTP surface's /readyz.
func (d *Database) Ping(ctx context.Context) error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection pool.
func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
