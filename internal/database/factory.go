package database

import (
	"fmt"
	"os"
	"path/filepath"

	"fieldsync/internal/config"
	"fieldsync/internal/fieldsync"
)

// NewDatabaseFromConfig opens the local cache based on the database config type
// and brings its schema up to date.
func NewDatabaseFromConfig(cfg config.DatabaseConfig, deviceID string, cipher fieldsync.Cipher, clock fieldsync.Clock) (*SQLiteDatabase, error) {
	var path string
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		path = filepath.Join(cfg.DataDir, deviceID+".db")
	case "memory":
		path = ":memory:"
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}

	db, err := NewSQLiteDatabase(path, cipher, clock)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating local cache: %w", err)
	}
	if err := db.CheckMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("local cache schema out of date: %w", err)
	}
	return db, nil
}
