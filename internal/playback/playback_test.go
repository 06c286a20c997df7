package playback

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/marquee-signage/marquee/internal/models"
	"github.com/marquee-signage/marquee/internal/resolver"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	testingclock "k8s.io/utils/clock/testing"
)

type fakePlayer struct {
	mu      sync.Mutex
	shows   []Show
	cleared []string
}

func (p *fakePlayer) Show(show Show) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shows = append(p.shows, show)
}

func (p *fakePlayer) Clear(zone string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cleared = append(p.cleared, zone)
}

func (p *fakePlayer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.shows)
}

func (p *fakePlayer) last() Show {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shows[len(p.shows)-1]
}

func (p *fakePlayer) urls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var urls []string
	for _, s := range p.shows {
		urls = append(urls, s.URL)
	}
	return urls
}

func intp(i int) *int    { return &i }
func boolp(b bool) *bool { return &b }

func image(url string, seconds int) models.Item {
	return models.Item{Duration: intp(seconds), Media: &models.Media{Type: models.MediaTypeImage, URL: url}}
}

func video(url string) models.Item {
	return models.Item{Media: &models.Media{Type: models.MediaTypeVideo, URL: url}}
}

func newZone(player Player, clk *testingclock.FakeClock, stall time.Duration) *Zone {
	return NewZone("screen", zap.NewNop().Sugar(), player, nil, FullScreen, ZoneOptions{Clock: clk, StallTimeout: stall})
}

func waitShows(t *testing.T, p *fakePlayer, n int) {
	require.Eventually(t, func() bool { return p.count() == n }, time.Second, time.Millisecond)
}

func TestZoneSequence(t *testing.T) {
	require := require.New(t)
	player := &fakePlayer{}
	clk := testingclock.NewFakeClock(time.Now())
	z := newZone(player, clk, 0)

	z.Configure("playlist:P1", FullScreen, []models.Item{image("imgA", 5), video("videoB"), image("imgC", 5)}, true)
	require.Equal("imgA", player.last().URL)

	clk.Step(5 * time.Second)
	waitShows(t, player, 2)
	videoToken := player.last().Token
	require.Equal("videoB", player.last().URL)
	require.False(player.last().Loop)

	// a video without loop-for-duration has no timer
	clk.Step(7 * time.Second)
	time.Sleep(20 * time.Millisecond)
	require.Equal(2, player.count())

	z.Handle(videoToken, EventEnded)
	require.Equal("imgC", player.last().URL)

	// the same ended event a second time is stale
	z.Handle(videoToken, EventEnded)
	require.Equal(3, player.count())

	clk.Step(5 * time.Second)
	waitShows(t, player, 4)
	require.Equal([]string{"imgA", "videoB", "imgC", "imgA"}, player.urls())
}

func TestZoneWithoutLoopStopsAtLastItem(t *testing.T) {
	require := require.New(t)
	player := &fakePlayer{}
	clk := testingclock.NewFakeClock(time.Now())
	z := newZone(player, clk, 0)

	z.Configure("layout:L1", FullScreen, []models.Item{image("a", 5), image("b", 5)}, false)
	clk.Step(5 * time.Second)
	waitShows(t, player, 2)
	clk.Step(5 * time.Second)
	require.Eventually(func() bool { return !z.Status().Active }, time.Second, time.Millisecond)
	clk.Step(5 * time.Second)
	time.Sleep(20 * time.Millisecond)

	require.Equal(2, player.count())
	status := z.Status()
	require.Equal(1, status.Index)
	require.Equal("b", status.Current)
	require.Empty(player.cleared)
}

func TestZoneErrorAdvances(t *testing.T) {
	require := require.New(t)
	player := &fakePlayer{}
	clk := testingclock.NewFakeClock(time.Now())
	z := newZone(player, clk, 0)

	z.Configure("playlist:P1", FullScreen, []models.Item{image("broken", 10), image("b", 10)}, true)
	token := player.last().Token
	z.Handle(token, EventError)
	require.Equal("b", player.last().URL)

	// the timer of the failed item is gone
	clk.Step(10 * time.Second)
	waitShows(t, player, 3)
	require.Equal("broken", player.last().URL)
}

func TestZoneFatalRecoversOnce(t *testing.T) {
	require := require.New(t)
	player := &fakePlayer{}
	clk := testingclock.NewFakeClock(time.Now())
	z := newZone(player, clk, 0)

	z.Configure("playlist:P1", FullScreen, []models.Item{video("v"), image("b", 10)}, true)
	first := player.last().Token

	z.Handle(first, EventFatal)
	require.Equal(2, player.count())
	require.Equal("v", player.last().URL)
	second := player.last().Token
	require.NotEqual(first, second)

	z.Handle(second, EventFatal)
	require.Equal("b", player.last().URL)
}

func TestZoneLoopForDuration(t *testing.T) {
	require := require.New(t)
	player := &fakePlayer{}
	clk := testingclock.NewFakeClock(time.Now())
	z := newZone(player, clk, 0)

	looping := video("v")
	looping.LoopVideo = boolp(true)
	looping.Duration = intp(20)
	z.Configure("playlist:P1", FullScreen, []models.Item{looping, image("b", 5)}, true)
	require.True(player.last().Loop)

	// the renderer loops, a stray ended event changes nothing
	z.Handle(player.last().Token, EventEnded)
	require.Equal(1, player.count())

	clk.Step(20 * time.Second)
	waitShows(t, player, 2)
	require.Equal("b", player.last().URL)
}

func TestZoneStallTimeout(t *testing.T) {
	player := &fakePlayer{}
	clk := testingclock.NewFakeClock(time.Now())
	z := newZone(player, clk, time.Minute)

	z.Configure("playlist:P1", FullScreen, []models.Item{video("v"), image("b", 5)}, true)
	clk.Step(time.Minute)
	waitShows(t, player, 2)
	require.Equal(t, "b", player.last().URL)
}

func TestZoneReconfigure(t *testing.T) {
	require := require.New(t)
	player := &fakePlayer{}
	clk := testingclock.NewFakeClock(time.Now())
	z := newZone(player, clk, 0)

	items := []models.Item{image("a", 10), image("b", 10), image("c", 10)}
	z.Configure("playlist:P1", FullScreen, items, true)
	clk.Step(10 * time.Second)
	waitShows(t, player, 2)

	// same content: no new show, position and timer kept
	clk.Step(4 * time.Second)
	z.Configure("playlist:P1", FullScreen, items, true)
	require.Equal(2, player.count())
	require.Equal(1, z.Status().Index)
	clk.Step(6 * time.Second)
	waitShows(t, player, 3)
	require.Equal("c", player.last().URL)

	// new content starts over and the old timer is dead
	z.Configure("playlist:P2", FullScreen, []models.Item{image("x", 30), image("y", 30)}, true)
	require.Equal("x", player.last().URL)
	require.Equal(0, z.Status().Index)
	clk.Step(10 * time.Second)
	time.Sleep(20 * time.Millisecond)
	require.Equal(4, player.count())
}

func TestZoneReconfigureClampsIndex(t *testing.T) {
	require := require.New(t)
	player := &fakePlayer{}
	clk := testingclock.NewFakeClock(time.Now())
	z := newZone(player, clk, 0)

	z.Configure("playlist:P1", FullScreen, []models.Item{image("a", 5), image("b", 5), image("c", 5)}, true)
	clk.Step(5 * time.Second)
	waitShows(t, player, 2)
	clk.Step(5 * time.Second)
	waitShows(t, player, 3)

	z.Configure("playlist:P1", FullScreen, []models.Item{image("a", 5), image("b", 5)}, true)
	require.Equal(1, z.Status().Index)
}

func TestZoneGeometryChangeRearmsTimer(t *testing.T) {
	require := require.New(t)
	player := &fakePlayer{}
	clk := testingclock.NewFakeClock(time.Now())
	z := newZone(player, clk, 0)

	items := []models.Item{image("a", 10), image("b", 10)}
	z.Configure("layout:L1", FullScreen, items, true)
	moved := Geometry{X: 10, Y: 10, Width: 50, Height: 50}
	z.Configure("layout:L1", moved, items, true)
	require.Equal(2, player.count())
	require.Equal(moved, player.last().Geometry)
	require.Equal("a", player.last().URL)

	// only the timer of the latest show is left
	z.Stop()
	require.False(clk.HasWaiters())
}

func TestZoneStopCancelsTimer(t *testing.T) {
	require := require.New(t)
	player := &fakePlayer{}
	clk := testingclock.NewFakeClock(time.Now())
	z := newZone(player, clk, 0)

	z.Configure("playlist:P1", FullScreen, []models.Item{image("a", 5), image("b", 5)}, true)
	token := player.last().Token
	z.Stop()
	clk.Step(5 * time.Second)
	z.Handle(token, EventError)
	time.Sleep(20 * time.Millisecond)

	require.Equal(1, player.count())
	require.Equal([]string{"screen"}, player.cleared)
}

type prefixResolver struct{}

func (prefixResolver) Resolve(url string) string {
	if strings.HasPrefix(url, "http://cdn/") {
		return "/media/" + strings.TrimPrefix(url, "http://cdn/")
	}
	return url
}

func TestStage(t *testing.T) {
	require := require.New(t)
	player := &fakePlayer{}
	clk := testingclock.NewFakeClock(time.Now())
	stage := NewStage(zap.NewNop().Sugar(), player, prefixResolver{}, ZoneOptions{Clock: clk})

	layout := resolver.Resolve(&models.ResolvedConfig{Layout: &models.Layout{ID: "L1", Sections: []models.Section{
		{ID: "ticker", Order: 2, X: 0, Y: 90, Width: 100, Height: 10, Items: []models.Item{image("http://cdn/ticker.png", 10)}},
		{ID: "main", Order: 1, Width: 100, Height: 90, LoopEnabled: true, Items: []models.Item{image("http://cdn/main.png", 10)}},
	}}})

	stage.Apply(layout)
	require.Equal(2, player.count())
	status := stage.Status()
	require.Equal("layout:L1", status.ContentKey)
	require.Equal("main", status.Zones[0].Name)
	require.Equal("ticker", status.Zones[1].Name)
	require.Equal("/media/ticker.png", player.last().URL)
	require.Equal(Geometry{Y: 90, Width: 100, Height: 10, Z: 2}, player.last().Geometry)

	// republishing the same content does not flicker
	stage.Apply(layout)
	require.Equal(2, player.count())

	playlist := resolver.Resolve(&models.ResolvedConfig{Playlist: &models.Playlist{ID: "P1", Items: []models.Item{image("http://other/p.png", 10)}}})
	stage.Apply(playlist)
	require.ElementsMatch([]string{"main", "ticker"}, player.cleared)
	require.Equal(ScreenZone, player.last().Zone)
	require.Equal("http://other/p.png", player.last().URL)

	stage.Handle("main", 1, EventError)
	require.Equal(3, player.count())

	stage.Apply(resolver.Resolve(nil))
	require.Equal("none", stage.ContentKey())
	require.Empty(stage.Status().Zones)
	require.Contains(player.cleared, ScreenZone)
}

func TestTransformFor(t *testing.T) {
	tests := []struct {
		name     string
		mode     models.ResizeMode
		rotation int
		want     Transform
	}{
		{name: "fit", mode: models.ResizeFit, want: Transform{Fit: FitContain}},
		{name: "fill", mode: models.ResizeFill, want: Transform{Fit: FitCover}},
		{name: "stretch", mode: models.ResizeStretch, want: Transform{Fit: FitFill}},
		{name: "quarter turn", mode: models.ResizeFit, rotation: 90, want: Transform{Fit: FitContain, Rotation: 90, SwapAxes: true}},
		{name: "half turn", mode: models.ResizeFill, rotation: 180, want: Transform{Fit: FitCover, Rotation: 180}},
		{name: "three quarter turn", mode: models.ResizeFit, rotation: 270, want: Transform{Fit: FitContain, Rotation: 270, SwapAxes: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TransformFor(models.Item{ResizeMode: tt.mode, Rotation: tt.rotation})
			require.Equal(t, tt.want, got)
		})
	}

	w, h := Transform{SwapAxes: true}.Box(1920, 1080)
	require.Equal(t, 1080.0, w)
	require.Equal(t, 1920.0, h)
}
