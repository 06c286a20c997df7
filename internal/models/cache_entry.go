package models

import "time"

// CacheEntry records one media URL that is available on local disk.
type CacheEntry struct {
	URL              string    `json:"url" gorm:"primaryKey"`
	Key              string    `json:"key" gorm:"uniqueIndex"`
	LocalPath        string    `json:"local_path"`
	SizeBytes        int64     `json:"size_bytes"`
	ContentType      string    `json:"content_type"`
	LastReferencedAt time.Time `json:"last_referenced_at" gorm:"index"`
}
