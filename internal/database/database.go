// Package database opens the local SQLite index the agent keeps next to its
// state file.
package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/marquee-signage/marquee/internal/models"
	"github.com/marquee-signage/marquee/internal/util"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Open opens (creating if needed) the SQLite database at path and migrates
// the schema. Opening is retried a few times since a display may still be
// mounting its storage when the agent starts.
func Open(ctx context.Context, logger *zap.SugaredLogger, path string) (*gorm.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	var db *gorm.DB
	connectDb := func() error {
		var err error
		db, err = gorm.Open(sqlite.Open(path), &gorm.Config{
			Logger: NewLogger(logger),
		})
		return err
	}
	if err := util.RetryOperation(ctx, 500*time.Millisecond, 5, connectDb); err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.CacheEntry{}); err != nil {
		return fmt.Errorf("migrating cache entries: %w", err)
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
