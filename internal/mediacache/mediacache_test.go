package mediacache

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mediaServer struct {
	*httptest.Server
	mu    sync.Mutex
	hits  map[string]int
	files map[string]string
}

func newMediaServer(t *testing.T, files map[string]string) *mediaServer {
	s := &mediaServer{hits: map[string]int{}, files: files}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		body, ok := s.files[r.URL.Path]
		s.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *mediaServer) hitCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func openCache(t *testing.T, dir string, maxBytes int64) *Cache {
	c, err := Open(context.Background(), zap.NewNop().Sugar(), Config{
		Dir:                dir,
		MaxBytes:           maxBytes,
		DownloadsPerSecond: 1000,
	})
	require.NoError(t, err)
	return c
}

func readAll(t *testing.T, c *Cache, key string) string {
	f, _, err := c.Open(key)
	require.NoError(t, err)
	defer f.Close()
	b, err := io.ReadAll(f)
	require.NoError(t, err)
	return string(b)
}

func TestSyncPreloadsAndResolves(t *testing.T) {
	require := require.New(t)
	server := newMediaServer(t, map[string]string{"/a.png": "aaaa", "/b.png": "bb"})
	c := openCache(t, t.TempDir(), 0)
	defer c.Close()

	a, b := server.URL+"/a.png", server.URL+"/b.png"
	require.Equal(a, c.Resolve(a))

	c.Sync(context.Background(), []string{a, b})
	c.Wait()

	require.Equal(PathPrefix+KeyFor(a), c.Resolve(a))
	require.True(strings.HasSuffix(c.Resolve(a), ".png"))
	require.Equal("aaaa", readAll(t, c, KeyFor(a)))
	require.Equal(Stats{Entries: 2, Bytes: 6}, c.Stats())

	// already cached media is not fetched again
	c.Sync(context.Background(), []string{a, b})
	c.Wait()
	require.Equal(1, server.hitCount("/a.png"))
}

func TestSyncEvictsUnreferenced(t *testing.T) {
	require := require.New(t)
	server := newMediaServer(t, map[string]string{"/a.png": "aaaa", "/b.png": "bb", "/c.png": "c"})
	c := openCache(t, t.TempDir(), 0)
	defer c.Close()

	a, b, cc := server.URL+"/a.png", server.URL+"/b.png", server.URL+"/c.png"
	c.Sync(context.Background(), []string{a, b})
	c.Wait()

	// an open file stays readable after eviction
	f, entry, err := c.Open(KeyFor(a))
	require.NoError(err)
	defer f.Close()

	c.Sync(context.Background(), []string{b, cc})
	c.Wait()

	require.False(c.Cached(a))
	require.True(c.Cached(b))
	require.True(c.Cached(cc))
	require.Equal(a, c.Resolve(a))
	_, err = os.Stat(entry.LocalPath)
	require.True(os.IsNotExist(err))
	data, err := io.ReadAll(f)
	require.NoError(err)
	require.Equal("aaaa", string(data))
	_, _, err = c.Open(KeyFor(a))
	require.ErrorIs(err, ErrNotFound)
}

func TestCacheConservation(t *testing.T) {
	require := require.New(t)
	files := map[string]string{}
	for _, name := range []string{"/1.png", "/2.png", "/3.png", "/4.png", "/5.png"} {
		files[name] = strings.Repeat("x", 10)
	}
	server := newMediaServer(t, files)
	c := openCache(t, t.TempDir(), 35)
	defer c.Close()

	rounds := [][]string{
		{"/1.png", "/2.png"},
		{"/2.png", "/3.png", "/4.png", "/5.png"},
		{"/5.png"},
		{},
	}
	for _, round := range rounds {
		var urls []string
		for _, p := range round {
			urls = append(urls, server.URL+p)
		}
		c.Sync(context.Background(), urls)
		c.Wait()

		stats := c.Stats()
		require.LessOrEqual(stats.Bytes, int64(35))
		// nothing unreferenced survives a sync
		referenced := map[string]bool{}
		for _, u := range urls {
			referenced[u] = true
		}
		c.mu.RLock()
		for u := range c.entries {
			require.True(referenced[u], "unreferenced %s still cached", u)
		}
		c.mu.RUnlock()
	}
	require.Zero(c.Stats().Entries)
}

func TestTooLargeIsSkipped(t *testing.T) {
	require := require.New(t)
	server := newMediaServer(t, map[string]string{"/big.mp4": strings.Repeat("v", 100), "/small.png": "s"})
	c := openCache(t, t.TempDir(), 50)
	defer c.Close()

	big, small := server.URL+"/big.mp4", server.URL+"/small.png"
	c.Sync(context.Background(), []string{big, small})
	c.Wait()

	require.False(c.Cached(big))
	require.Equal(big, c.Resolve(big))
	require.True(c.Cached(small))
	require.Equal(1, c.Stats().Skipped)

	// a skipped URL is not retried every cycle
	c.Sync(context.Background(), []string{big, small})
	c.Wait()
	require.Equal(1, server.hitCount("/big.mp4"))

	entries, err := os.ReadDir(filepath.Join(c.config.Dir, "media"))
	require.NoError(err)
	require.Len(entries, 1)
}

func TestFailedDownloadFallsBack(t *testing.T) {
	require := require.New(t)
	server := newMediaServer(t, map[string]string{})
	c := openCache(t, t.TempDir(), 0)
	defer c.Close()

	missing := server.URL + "/missing.png"
	c.Sync(context.Background(), []string{missing})
	c.Wait()
	require.Equal(missing, c.Resolve(missing))
	require.Zero(c.Stats().Entries)
}

func TestReopenKeepsIndexAndRemovesOrphans(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()
	server := newMediaServer(t, map[string]string{"/a.png": "aaaa"})
	a := server.URL + "/a.png"

	c := openCache(t, dir, 0)
	c.Sync(context.Background(), []string{a})
	c.Wait()
	require.NoError(c.Close())

	orphan := filepath.Join(dir, "media", "leftover.tmp")
	require.NoError(os.WriteFile(orphan, []byte("junk"), 0600))

	c = openCache(t, dir, 0)
	defer c.Close()
	require.True(c.Cached(a))
	require.Equal("aaaa", readAll(t, c, KeyFor(a)))
	_, err := os.Stat(orphan)
	require.True(os.IsNotExist(err))
}

func TestCancelledSyncStopsPreload(t *testing.T) {
	server := newMediaServer(t, map[string]string{"/a.png": "aaaa"})
	c := openCache(t, t.TempDir(), 0)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c.Sync(ctx, []string{server.URL + "/a.png"})
	c.Wait()
	require.False(t, c.Cached(server.URL+"/a.png"))
}

func TestKeyFor(t *testing.T) {
	require := require.New(t)
	require.True(strings.HasSuffix(KeyFor("http://cdn/a/b/video.MP4?sig=1"), ".mp4"))
	require.Len(KeyFor("http://cdn/noext"), 16)
	require.Len(KeyFor("http://cdn/weird.p$g"), 16)
	require.NotEqual(KeyFor("http://cdn/a.png"), KeyFor("http://cdn/b.png"))
}

func TestTransientDownloadFailureIsRetried(t *testing.T) {
	require := require.New(t)
	var mu sync.Mutex
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, "bbbb")
	}))
	defer server.Close()

	c, err := Open(context.Background(), zap.NewNop().Sugar(), Config{
		Dir:                t.TempDir(),
		DownloadsPerSecond: 1000,
		RetryWait:          10 * time.Millisecond,
	})
	require.NoError(err)
	defer c.Close()

	u := server.URL + "/b.png"
	c.Sync(context.Background(), []string{u})
	c.Wait()
	require.True(c.Cached(u))
	require.Equal("bbbb", readAll(t, c, KeyFor(u)))
	mu.Lock()
	require.Equal(2, attempts)
	mu.Unlock()
}

func TestDownloadDroppedByLaterSyncIsDiscarded(t *testing.T) {
	require := require.New(t)
	started := make(chan struct{})
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		_, _ = io.WriteString(w, "old")
	}))
	defer server.Close()

	dir := t.TempDir()
	c := openCache(t, dir, 0)
	defer c.Close()

	old := server.URL + "/old.png"
	c.Sync(context.Background(), []string{old})
	<-started
	c.Sync(context.Background(), nil)
	close(release)
	c.Wait()

	require.False(c.Cached(old))
	require.Zero(c.Stats().Entries)
	require.Zero(c.Stats().Bytes)
	_, err := os.Stat(filepath.Join(dir, "media", KeyFor(old)))
	require.True(os.IsNotExist(err))
}
