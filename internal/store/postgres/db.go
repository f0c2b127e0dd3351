// Package postgres is the GORM-backed persistence layer: Event Store, Queue
// Service, Execution store, and Runtime Registry, grounded on the teacher's
// internal/data/repos/jobs repositories and internal/domain/jobs models.
package postgres

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/noetl/core/internal/domain/noetl"
)

// Open connects to Postgres and auto-migrates the core schema. Mirrors the
// teacher's internal/app.New() postgres-open-then-automigrate sequence.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("postgres: automigrate: %w", err)
	}
	return db, nil
}

// AutoMigrate creates/updates the four core tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&noetl.Execution{},
		&noetl.Event{},
		&noetl.QueueEntry{},
		&noetl.RuntimeComponent{},
	)
}
