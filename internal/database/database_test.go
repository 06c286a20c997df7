package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/marquee-signage/marquee/internal/models"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOpenMigratesAndPersists(t *testing.T) {
	require := require.New(t)
	path := filepath.Join(t.TempDir(), "nested", "index.db")

	db, err := Open(context.Background(), zap.NewNop().Sugar(), path)
	require.NoError(err)
	entry := models.CacheEntry{URL: "http://cdn/a.png", Key: "k1", LocalPath: "/tmp/k1", SizeBytes: 42, LastReferencedAt: time.Now()}
	require.NoError(db.Create(&entry).Error)
	require.NoError(Close(db))

	db, err = Open(context.Background(), zap.NewNop().Sugar(), path)
	require.NoError(err)
	defer func() { _ = Close(db) }()
	var entries []models.CacheEntry
	require.NoError(db.Find(&entries).Error)
	require.Len(entries, 1)
	require.Equal(int64(42), entries[0].SizeBytes)
}
