// Package mediacache keeps the media a display needs on local disk so it can
// keep playing without a network.
package mediacache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dustin/go-humanize"
	"github.com/marquee-signage/marquee/internal/database"
	"github.com/marquee-signage/marquee/internal/models"
	"github.com/marquee-signage/marquee/internal/util"
	"github.com/natefinch/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
	"k8s.io/utils/clock"
)

// PathPrefix is where the renderer bridge serves cached media.
const PathPrefix = "/media/"

var (
	ErrTooLarge = errors.New("media does not fit in the cache")
	ErrNotFound = errors.New("media not cached")

	// errTransient marks download failures worth retrying.
	errTransient = errors.New("transient download failure")
	// errUnreferenced is returned for a download that finished after the
	// last Sync dropped its URL.
	errUnreferenced = errors.New("media no longer referenced")
)

type Config struct {
	// Dir holds the media files and the index database.
	Dir string
	// MaxBytes bounds the total size of cached media. Zero means unbounded.
	MaxBytes int64
	// Concurrency is the number of parallel downloads.
	Concurrency int
	// DownloadsPerSecond limits how fast downloads are started.
	DownloadsPerSecond float64
	DownloadTimeout    time.Duration
	// DownloadRetries is how often a download failing with a network error
	// or a 5xx status is retried, RetryWait apart.
	DownloadRetries int
	RetryWait       time.Duration
	HTTPClient      *http.Client
	Clock           clock.PassiveClock
}

// Stats summarizes the cache for status reporting.
type Stats struct {
	Entries  int   `json:"entries"`
	Bytes    int64 `json:"bytes"`
	MaxBytes int64 `json:"max-bytes"`
	Skipped  int   `json:"skipped"`
}

// Cache is a size bounded set of downloaded media indexed in SQLite. The
// index and the files change under the write lock; lookups take the read
// lock. Files are renamed into place once complete, so a reader never sees
// a partial file, and an open file stays readable after eviction.
type Cache struct {
	logger  *zap.SugaredLogger
	config  Config
	db      *gorm.DB
	client  *http.Client
	limiter *rate.Limiter
	group   singleflight.Group
	wg      sync.WaitGroup

	mu      sync.RWMutex
	entries map[string]*models.CacheEntry
	byKey   map[string]*models.CacheEntry
	total   int64
	// referenced is the URL set of the last Sync.
	referenced map[string]struct{}
	// skipped remembers referenced URLs that did not fit.
	skipped map[string]struct{}
}

// Open loads the index, drops entries whose file is gone and removes files
// that no entry refers to.
func Open(ctx context.Context, logger *zap.SugaredLogger, config Config) (*Cache, error) {
	if config.Concurrency <= 0 {
		config.Concurrency = 2
	}
	if config.DownloadsPerSecond <= 0 {
		config.DownloadsPerSecond = 4
	}
	if config.DownloadTimeout <= 0 {
		config.DownloadTimeout = 5 * time.Minute
	}
	if config.DownloadRetries <= 0 {
		config.DownloadRetries = 2
	}
	if config.RetryWait <= 0 {
		config.RetryWait = time.Second
	}
	if config.Clock == nil {
		config.Clock = clock.RealClock{}
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	if err := util.RetryOperation(ctx, 500*time.Millisecond, 5, func() error {
		return os.MkdirAll(mediaDir(config.Dir), 0700)
	}); err != nil {
		return nil, fmt.Errorf("creating media directory: %w", err)
	}
	db, err := database.Open(ctx, logger, filepath.Join(config.Dir, "index.db"))
	if err != nil {
		return nil, err
	}

	c := &Cache{
		logger:     logger.With("component", "mediacache"),
		config:     config,
		db:         db,
		client:     httpClient,
		limiter:    rate.NewLimiter(rate.Limit(config.DownloadsPerSecond), 1),
		entries:    map[string]*models.CacheEntry{},
		byKey:      map[string]*models.CacheEntry{},
		referenced: map[string]struct{}{},
		skipped:    map[string]struct{}{},
	}
	if err := c.load(); err != nil {
		util.IgnoreError(func() error { return database.Close(db) })
		return nil, err
	}
	return c, nil
}

func mediaDir(dir string) string {
	return filepath.Join(dir, "media")
}

func (c *Cache) load() error {
	var rows []models.CacheEntry
	if err := c.db.Find(&rows).Error; err != nil {
		return fmt.Errorf("loading cache index: %w", err)
	}
	for i := range rows {
		entry := rows[i]
		if info, err := os.Stat(entry.LocalPath); err != nil || info.Size() != entry.SizeBytes {
			c.logger.Debugf("Dropping index entry for missing file %s", entry.LocalPath)
			c.db.Delete(&entry)
			continue
		}
		c.entries[entry.URL] = &entry
		c.byKey[entry.Key] = &entry
		c.total += entry.SizeBytes
	}

	files, err := os.ReadDir(mediaDir(c.config.Dir))
	if err != nil {
		return err
	}
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		if _, ok := c.byKey[f.Name()]; ok {
			continue
		}
		c.logger.Debugf("Removing orphaned file %s", f.Name())
		util.IgnoreError(func() error { return os.Remove(filepath.Join(mediaDir(c.config.Dir), f.Name())) })
	}
	c.logger.Infof("Media cache holds %d files, %s", len(c.entries), humanize.IBytes(uint64(c.total)))
	return nil
}

// KeyFor derives the file name a URL is cached under. The extension of the
// URL path is kept so the bytes are served with a sensible content type.
func KeyFor(rawURL string) string {
	key := fmt.Sprintf("%016x", xxhash.Sum64String(rawURL))
	if u, err := url.Parse(rawURL); err == nil {
		ext := strings.ToLower(path.Ext(u.Path))
		if len(ext) > 1 && len(ext) <= 6 && isAlnum(ext[1:]) {
			key += ext
		}
	}
	return key
}

func isAlnum(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// Sync marks urls as referenced, evicts everything else and starts
// downloading referenced media that is missing. It returns before the
// downloads finish.
func (c *Cache) Sync(ctx context.Context, urls []string) {
	referenced := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		referenced[u] = struct{}{}
	}
	now := c.config.Clock.Now()

	c.mu.Lock()
	c.referenced = referenced
	var touched []string
	for u, entry := range c.entries {
		if _, ok := referenced[u]; ok {
			entry.LastReferencedAt = now
			touched = append(touched, u)
			continue
		}
		c.evictLocked(entry)
	}
	for u := range c.skipped {
		if _, ok := referenced[u]; !ok {
			delete(c.skipped, u)
		}
	}
	var missing []string
	for _, u := range urls {
		_, cached := c.entries[u]
		_, skipped := c.skipped[u]
		if !cached && !skipped {
			missing = append(missing, u)
		}
	}
	if len(touched) > 0 {
		if err := c.db.Model(&models.CacheEntry{}).Where("url IN ?", touched).Update("last_referenced_at", now).Error; err != nil {
			c.logger.Warnf("Failed to refresh cache entries: %v", err)
		}
	}
	c.mu.Unlock()

	if len(missing) == 0 {
		return
	}
	util.GoWithWaitGroup(&c.wg, func() {
		c.preload(ctx, missing)
	})
}

// evictLocked removes an entry and its file. Readers holding the file open
// keep reading the old bytes.
func (c *Cache) evictLocked(entry *models.CacheEntry) {
	if err := os.Remove(entry.LocalPath); err != nil && !os.IsNotExist(err) {
		c.logger.Warnf("Failed to remove %s: %v", entry.LocalPath, err)
	}
	if err := c.db.Delete(&models.CacheEntry{}, "url = ?", entry.URL).Error; err != nil {
		c.logger.Warnf("Failed to delete index entry for %s: %v", entry.URL, err)
	}
	delete(c.entries, entry.URL)
	delete(c.byKey, entry.Key)
	c.total -= entry.SizeBytes
	// space was freed, skipped media may fit now
	c.skipped = map[string]struct{}{}
	c.logger.Debugf("Evicted %s (%s)", entry.URL, humanize.IBytes(uint64(entry.SizeBytes)))
}

func (c *Cache) preload(ctx context.Context, urls []string) {
	g := errgroup.Group{}
	g.SetLimit(c.config.Concurrency)
	for _, u := range urls {
		u := u
		g.Go(func() error {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil
			}
			err := util.RetryOperationForErrors(ctx, c.config.RetryWait, c.config.DownloadRetries, []error{errTransient}, func() error {
				_, err, _ := c.group.Do(u, func() (interface{}, error) {
					return c.download(ctx, u)
				})
				return err
			})
			switch {
			case errors.Is(err, errUnreferenced):
				c.logger.Debugf("Discarded %s: %v", u, err)
			case errors.Is(err, ErrTooLarge):
				c.mu.Lock()
				if _, ok := c.referenced[u]; ok {
					c.skipped[u] = struct{}{}
				}
				c.mu.Unlock()
				c.logger.Infof("Not caching %s: %v", u, err)
			case err != nil && ctx.Err() == nil:
				c.logger.Warnf("Failed to cache %s: %v", u, err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (c *Cache) download(ctx context.Context, rawURL string) (*models.CacheEntry, error) {
	c.mu.RLock()
	existing, ok := c.entries[rawURL]
	c.mu.RUnlock()
	if ok {
		return existing, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.DownloadTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errTransient, err)
	}
	defer util.IgnoreError(resp.Body.Close)
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: GET %s: status %d", errTransient, rawURL, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", rawURL, resp.StatusCode)
	}

	room := c.room()
	if room >= 0 && resp.ContentLength > room {
		return nil, fmt.Errorf("%w: %s needed, %s free", ErrTooLarge, humanize.IBytes(uint64(resp.ContentLength)), humanize.IBytes(uint64(room)))
	}

	key := KeyFor(rawURL)
	localPath := filepath.Join(mediaDir(c.config.Dir), key)
	body := &countingReader{r: resp.Body, limit: room}
	if err := atomic.WriteFile(localPath, body); err != nil {
		if body.exceeded {
			return nil, fmt.Errorf("%w: %s is larger than the free space", ErrTooLarge, rawURL)
		}
		return nil, fmt.Errorf("writing %s: %w", localPath, err)
	}

	entry := &models.CacheEntry{
		URL:              rawURL,
		Key:              key,
		LocalPath:        localPath,
		SizeBytes:        body.n,
		ContentType:      resp.Header.Get("Content-Type"),
		LastReferencedAt: c.config.Clock.Now(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.referenced[rawURL]; !ok {
		util.IgnoreError(func() error { return os.Remove(localPath) })
		return nil, errUnreferenced
	}
	if c.config.MaxBytes > 0 && c.total+entry.SizeBytes > c.config.MaxBytes {
		util.IgnoreError(func() error { return os.Remove(localPath) })
		return nil, fmt.Errorf("%w: %s", ErrTooLarge, rawURL)
	}
	if err := c.db.Save(entry).Error; err != nil {
		util.IgnoreError(func() error { return os.Remove(localPath) })
		return nil, fmt.Errorf("indexing %s: %w", rawURL, err)
	}
	c.entries[rawURL] = entry
	c.byKey[key] = entry
	c.total += entry.SizeBytes
	c.logger.Debugf("Cached %s (%s)", rawURL, humanize.IBytes(uint64(entry.SizeBytes)))
	return entry, nil
}

// room returns the free space, or -1 for an unbounded cache.
func (c *Cache) room() int64 {
	if c.config.MaxBytes <= 0 {
		return -1
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.total >= c.config.MaxBytes {
		return 0
	}
	return c.config.MaxBytes - c.total
}

// countingReader fails once more than limit bytes were read. A negative
// limit disables the check.
type countingReader struct {
	r        io.Reader
	n        int64
	limit    int64
	exceeded bool
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += int64(n)
	if cr.limit >= 0 && cr.n > cr.limit {
		cr.exceeded = true
		return n, ErrTooLarge
	}
	return n, err
}

// Resolve returns the local URL for cached media, or rawURL when the bytes
// are not on disk.
func (c *Cache) Resolve(rawURL string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if entry, ok := c.entries[rawURL]; ok {
		return PathPrefix + entry.Key
	}
	return rawURL
}

// Open opens the file cached under key. The caller closes it.
func (c *Cache) Open(key string) (*os.File, models.CacheEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.byKey[key]
	if !ok {
		return nil, models.CacheEntry{}, ErrNotFound
	}
	f, err := os.Open(entry.LocalPath)
	if err != nil {
		return nil, models.CacheEntry{}, err
	}
	return f, *entry, nil
}

// Cached reports whether url is on local disk.
func (c *Cache) Cached(rawURL string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[rawURL]
	return ok
}

func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Entries:  len(c.entries),
		Bytes:    c.total,
		MaxBytes: c.config.MaxBytes,
		Skipped:  len(c.skipped),
	}
}

// Wait blocks until running preloads finish.
func (c *Cache) Wait() {
	c.wg.Wait()
}

// Close waits for preloads and closes the index. Cancel the context given to
// Sync first to abort downloads.
func (c *Cache) Close() error {
	c.wg.Wait()
	return database.Close(c.db)
}
