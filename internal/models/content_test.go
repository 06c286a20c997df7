package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestSortItemsIsStable(t *testing.T) {
	require := require.New(t)
	items := []Item{
		{ID: "a", Order: 2},
		{ID: "b", Order: 1},
		{ID: "c", Order: 2},
		{ID: "d", Order: 1},
	}
	sorted := SortItems(items)
	var ids []string
	for _, i := range sorted {
		ids = append(ids, i.ID)
	}
	require.Equal([]string{"b", "d", "a", "c"}, ids)
	// the input is left untouched
	require.Equal("a", items[0].ID)
}

func TestDurationSeconds(t *testing.T) {
	tests := []struct {
		name     string
		item     Item
		expected int
	}{
		{"item duration wins", Item{Duration: intPtr(5), Media: &Media{Duration: intPtr(30)}}, 5},
		{"media duration hint", Item{Media: &Media{Duration: intPtr(30)}}, 30},
		{"default", Item{Media: &Media{}}, DefaultImageDuration},
		{"zero clamps to one", Item{Duration: intPtr(0)}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, tt.item.DurationSeconds())
		})
	}
}

func TestLoopsForDuration(t *testing.T) {
	yes := true
	require.True(t, Item{LoopVideo: &yes, Duration: intPtr(20)}.LoopsForDuration())
	require.False(t, Item{LoopVideo: &yes}.LoopsForDuration())
	require.False(t, Item{Duration: intPtr(20)}.LoopsForDuration())
}

func TestNormalize(t *testing.T) {
	require := require.New(t)
	payload := `{
		"playlist": {"id": "p1", "name": "lobby", "items": [
			{"order": 1, "resizeMode": "fill", "rotation": 90, "media": {"id": "m1", "type": "image", "url": "http://x/a.png"}},
			{"order": 2, "resizeMode": "zoom", "rotation": 45, "duration": -4, "media": {"id": "m2", "type": "AUDIO", "url": "http://x/b.mp3"}}
		]},
		"layout": {"id": "l1", "orientation": "portrait", "sections": [
			{"x": 0, "y": 0, "width": 50, "height": 100, "items": [{"order": 0, "media": {"id": "m3", "type": "VIDEO", "url": "http://x/c.mp4"}}]}
		]},
		"unknownField": true
	}`
	var cfg ResolvedConfig
	require.NoError(json.Unmarshal([]byte(payload), &cfg))
	cfg.Normalize()

	first := cfg.Playlist.Items[0]
	require.Equal(ResizeFill, first.ResizeMode)
	require.Equal(90, first.Rotation)
	require.Equal(MediaTypeImage, first.Media.Type)

	second := cfg.Playlist.Items[1]
	require.Equal(ResizeFit, second.ResizeMode)
	require.Equal(0, second.Rotation)
	require.Nil(second.Duration)
	require.Nil(second.Media)
	require.False(second.Playable())

	require.Equal(OrientationPortrait, cfg.Layout.Orientation)
	require.True(cfg.Layout.Sections[0].Items[0].IsVideo())
}

func TestDeviceIdentityValid(t *testing.T) {
	var nilIdentity *DeviceIdentity
	require.False(t, nilIdentity.Valid())
	require.False(t, (&DeviceIdentity{DeviceToken: "tok"}).Valid())
	require.False(t, (&DeviceIdentity{DisplayID: "D1"}).Valid())
	require.True(t, (&DeviceIdentity{DisplayID: "D1", DeviceToken: "tok"}).Valid())
}
