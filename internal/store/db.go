/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package store is the persistence collaborator for the playback core. It
// owns the sqlite settings table and the persisted queue; the core consults
// it at bootstrap and on the mutation points listed in the engine.
package store

import (
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/friendsincode/melisma/internal/models"
)

// Connect opens the sqlite database and migrates the schema.
func Connect(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// sqlite: a single writer connection avoids SQLITE_BUSY under
	// concurrent checkpoint and queue writes.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := db.AutoMigrate(models.All()...); err != nil {
		return nil, err
	}

	return db, nil
}
