package resolver

import (
	"testing"

	"github.com/marquee-signage/marquee/internal/models"
	"github.com/stretchr/testify/require"
)

func item(order int, url string) models.Item {
	if url == "" {
		return models.Item{Order: order}
	}
	return models.Item{Order: order, Media: &models.Media{ID: url, Type: models.MediaTypeImage, URL: url}}
}

func TestPrecedence(t *testing.T) {
	playablePlaylist := &models.Playlist{ID: "P1", Items: []models.Item{item(0, "http://cdn/a.png")}}
	emptyPlaylist := &models.Playlist{ID: "P2", Items: []models.Item{item(0, "")}}
	playableLayout := &models.Layout{ID: "L1", Sections: []models.Section{{Items: []models.Item{item(0, "http://cdn/b.png")}}}}
	emptyLayout := &models.Layout{ID: "L2", Sections: []models.Section{{Items: []models.Item{item(0, "")}}, {}}}

	tests := []struct {
		name   string
		config *models.ResolvedConfig
		kind   Kind
		key    string
	}{
		{name: "nil config", config: nil, kind: KindNone, key: "none"},
		{name: "empty config", config: &models.ResolvedConfig{}, kind: KindNone, key: "none"},
		{name: "layout wins over playlist", config: &models.ResolvedConfig{Layout: playableLayout, Playlist: playablePlaylist}, kind: KindLayout, key: "layout:L1"},
		{name: "empty layout falls back to playlist", config: &models.ResolvedConfig{Layout: emptyLayout, Playlist: playablePlaylist}, kind: KindPlaylist, key: "playlist:P1"},
		{name: "playlist only", config: &models.ResolvedConfig{Playlist: playablePlaylist}, kind: KindPlaylist, key: "playlist:P1"},
		{name: "nothing playable", config: &models.ResolvedConfig{Layout: emptyLayout, Playlist: emptyPlaylist}, kind: KindNone, key: "none"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)
			res := Resolve(tt.config)
			require.Equal(tt.kind, res.Kind)
			require.Equal(tt.key, res.ContentKey())
			// never both
			require.False(res.Layout != nil && res.Playlist != nil)
		})
	}
}

func TestResolveFiltersAndOrders(t *testing.T) {
	require := require.New(t)
	cfg := &models.ResolvedConfig{
		Playlist: &models.Playlist{ID: "P1", Items: []models.Item{
			item(2, "http://cdn/c.png"),
			item(1, ""),
			item(0, "http://cdn/a.png"),
			item(2, "http://cdn/d.png"),
		}},
		ActiveSchedule: &models.ScheduleSummary{ID: "S1", Name: "Mornings"},
	}

	res := Resolve(cfg)
	require.Equal(KindPlaylist, res.Kind)
	var urls []string
	for _, it := range res.Playlist.Items {
		urls = append(urls, it.Media.URL)
	}
	require.Equal([]string{"http://cdn/a.png", "http://cdn/c.png", "http://cdn/d.png"}, urls)
	require.Equal("S1", res.Schedule.ID)
	// the input is untouched
	require.Len(cfg.Playlist.Items, 4)
}

func TestLayoutSectionsByZIndex(t *testing.T) {
	require := require.New(t)
	cfg := &models.ResolvedConfig{Layout: &models.Layout{ID: "L1", Sections: []models.Section{
		{ID: "top", Order: 2, Items: []models.Item{item(0, "http://cdn/top.png")}},
		{ID: "empty", Order: 0, Items: []models.Item{item(0, "")}},
		{ID: "bottom", Order: 1, Items: []models.Item{item(0, "http://cdn/bottom.png"), item(1, "http://cdn/top.png")}},
	}}}

	res := Resolve(cfg)
	require.Equal(KindLayout, res.Kind)
	require.Len(res.Layout.Sections, 2)
	require.Equal("bottom", res.Layout.Sections[0].ID)
	require.Equal("top", res.Layout.Sections[1].ID)
	require.Equal([]string{"http://cdn/bottom.png", "http://cdn/top.png"}, res.Referenced())
}

func TestReferencedURLsCoversLayoutAndPlaylist(t *testing.T) {
	require := require.New(t)
	cfg := &models.ResolvedConfig{
		Layout: &models.Layout{ID: "L1", Sections: []models.Section{
			{ID: "main", Items: []models.Item{item(0, "http://cdn/l.png"), item(1, "")}},
		}},
		Playlist: &models.Playlist{ID: "P1", Items: []models.Item{item(0, "http://cdn/p.png"), item(1, "http://cdn/l.png")}},
	}

	require.Equal([]string{"http://cdn/l.png"}, Resolve(cfg).Referenced())
	require.Equal([]string{"http://cdn/l.png", "http://cdn/p.png"}, ReferencedURLs(cfg))
	require.Nil(ReferencedURLs(nil))
}
