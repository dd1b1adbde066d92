// Package database opens the SQL store behind the ledger and keeps its schema current.
package database

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"portfolio-tracker/config"
	"portfolio-tracker/models"
)

var (
	ErrInvalidBatchSize = errors.New("invalid batch size")
	ErrUnknownDriver    = errors.New("unknown database driver")
)

// Open connects to the configured database. SQLite connections are limited to a
// single writer so that concurrent transactions queue instead of failing with
// "database is locked".
func Open(cfg config.DatabaseConfig, log zerolog.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN())
	case "sqlite":
		dialector = sqlite.Open(cfg.SQLitePath + "?_foreign_keys=1&_busy_timeout=5000")
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}

	level := logger.Warn
	if cfg.LogSQL {
		level = logger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger: logger.New(gormWriter{log: log.With().Str("component", "gorm").Logger()}, logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}

	if cfg.Driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get database instance: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	return db, nil
}

// Migrate creates or updates every table the service owns.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.Position{},
		&models.Transaction{},
		&models.StockPrice{},
	); err != nil {
		return fmt.Errorf("failed to migrate models: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateInBatches inserts rows in chunks of batchSize inside one transaction;
// either every chunk is stored or none is.
func CreateInBatches[T any](db *gorm.DB, rows []T, batchSize int) error {
	if batchSize <= 0 {
		return ErrInvalidBatchSize
	}
	if len(rows) == 0 {
		return nil
	}

	return db.Transaction(func(tx *gorm.DB) error {
		for i := 0; i < len(rows); i += batchSize {
			end := i + batchSize
			if end > len(rows) {
				end = len(rows)
			}

			chunk := rows[i:end]
			if err := tx.Create(&chunk).Error; err != nil {
				return fmt.Errorf("batch insert failed at offset %d: %w", i, err)
			}
		}
		return nil
	})
}

// gormWriter routes gorm's printf-style logger into zerolog at the level of
// the message gorm is reporting.
type gormWriter struct {
	log zerolog.Logger
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.log.WithLevel(gormLevel(format, args)).Msgf(format, args...)
}

// gormLevel recovers the severity gorm dropped when formatting: failed
// queries carry their error, slow queries a "SLOW SQL" note, and plain
// messages a [warn] or [error] tag.
func gormLevel(format string, args []interface{}) zerolog.Level {
	for _, arg := range args {
		switch v := arg.(type) {
		case error:
			return zerolog.ErrorLevel
		case string:
			if strings.HasPrefix(v, "SLOW SQL") {
				return zerolog.WarnLevel
			}
		}
	}
	switch {
	case strings.Contains(format, "[error]"):
		return zerolog.ErrorLevel
	case strings.Contains(format, "[warn]"):
		return zerolog.WarnLevel
	}
	return zerolog.InfoLevel
}
