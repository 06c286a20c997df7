package models

import (
	"sort"
	"strings"
)

// MediaType is the kind of asset a Media references.
type MediaType string

const (
	MediaTypeImage MediaType = "IMAGE"
	MediaTypeVideo MediaType = "VIDEO"
)

// ResizeMode controls how an item is fitted into its zone.
type ResizeMode string

const (
	ResizeFit     ResizeMode = "FIT"
	ResizeFill    ResizeMode = "FILL"
	ResizeStretch ResizeMode = "STRETCH"
)

// Orientation of a layout or an individual item.
type Orientation string

const (
	OrientationLandscape Orientation = "LANDSCAPE"
	OrientationPortrait  Orientation = "PORTRAIT"
)

// DefaultImageDuration is used when neither the item nor the media carry a duration.
const DefaultImageDuration = 10

// Media is an immutable reference to an uploaded asset.
type Media struct {
	ID   string    `json:"id"`
	Type MediaType `json:"type"`
	URL  string    `json:"url"`
	// Duration in seconds. A hint only, the item duration wins.
	Duration *int `json:"duration,omitempty"`
}

// Item is one entry of a playlist or of a layout section.
type Item struct {
	ID          string       `json:"id,omitempty"`
	Order       int          `json:"order"`
	Duration    *int         `json:"duration,omitempty"`
	LoopVideo   *bool        `json:"loopVideo,omitempty"`
	Orientation *Orientation `json:"orientation,omitempty"`
	ResizeMode  ResizeMode   `json:"resizeMode"`
	Rotation    int          `json:"rotation"`
	Media       *Media       `json:"media"`
}

// PlaylistItem and SectionItem share the same shape.
type (
	PlaylistItem = Item
	SectionItem  = Item
)

// Playable reports whether the item references media that can be rendered.
func (i Item) Playable() bool {
	return i.Media != nil && i.Media.URL != ""
}

// DurationSeconds returns max(1, item duration ?? media duration ?? 10).
func (i Item) DurationSeconds() int {
	d := DefaultImageDuration
	switch {
	case i.Duration != nil:
		d = *i.Duration
	case i.Media != nil && i.Media.Duration != nil:
		d = *i.Media.Duration
	}
	if d < 1 {
		d = 1
	}
	return d
}

// LoopsForDuration is true for a video that the player loops while a timer
// decides when to cut over.
func (i Item) LoopsForDuration() bool {
	return i.LoopVideo != nil && *i.LoopVideo && i.Duration != nil && *i.Duration > 0
}

// IsVideo reports whether the item's media is a video.
func (i Item) IsVideo() bool {
	return i.Media != nil && i.Media.Type == MediaTypeVideo
}

// Playlist is a whole-screen ordered sequence of items.
type Playlist struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Items []PlaylistItem `json:"items"`
}

// Section is a rectangular region of a layout. Geometry is in percent of the layout.
type Section struct {
	ID          string        `json:"id,omitempty"`
	X           float64       `json:"x"`
	Y           float64       `json:"y"`
	Width       float64       `json:"width"`
	Height      float64       `json:"height"`
	Order       int           `json:"order"`
	LoopEnabled bool          `json:"loopEnabled"`
	Items       []SectionItem `json:"items"`
}

// Layout is a multi-zone composition.
type Layout struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Width       int         `json:"width"`
	Height      int         `json:"height"`
	Orientation Orientation `json:"orientation"`
	Sections    []Section   `json:"sections"`
}

// ScheduleSummary describes the schedule the backend used to pick the content.
type ScheduleSummary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Priority *int   `json:"priority,omitempty"`
}

// ResolvedConfig is the backend's answer to "what should this display show".
type ResolvedConfig struct {
	Playlist       *Playlist        `json:"playlist,omitempty"`
	Layout         *Layout          `json:"layout,omitempty"`
	ActiveSchedule *ScheduleSummary `json:"activeSchedule,omitempty"`
}

// SortItems returns a copy of items ordered by Order, ties kept in their
// original position.
func SortItems(items []Item) []Item {
	sorted := make([]Item, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(a, b int) bool {
		return sorted[a].Order < sorted[b].Order
	})
	return sorted
}

// Normalize coerces a decoded payload into the values playback understands.
// Unknown enum values fall back to their defaults, media of an unknown type is
// dropped and negative durations are treated as absent.
func (c *ResolvedConfig) Normalize() {
	if c == nil {
		return
	}
	if c.Playlist != nil {
		for i := range c.Playlist.Items {
			normalizeItem(&c.Playlist.Items[i])
		}
	}
	if c.Layout != nil {
		c.Layout.Orientation = normalizeOrientation(c.Layout.Orientation)
		for s := range c.Layout.Sections {
			for i := range c.Layout.Sections[s].Items {
				normalizeItem(&c.Layout.Sections[s].Items[i])
			}
		}
	}
}

func normalizeItem(item *Item) {
	switch ResizeMode(strings.ToUpper(string(item.ResizeMode))) {
	case ResizeFill:
		item.ResizeMode = ResizeFill
	case ResizeStretch:
		item.ResizeMode = ResizeStretch
	default:
		item.ResizeMode = ResizeFit
	}

	switch item.Rotation {
	case 0, 90, 180, 270:
	default:
		item.Rotation = 0
	}

	if item.Duration != nil && *item.Duration < 0 {
		item.Duration = nil
	}

	if item.Orientation != nil {
		o := normalizeOrientation(*item.Orientation)
		item.Orientation = &o
	}

	if item.Media == nil {
		return
	}
	switch MediaType(strings.ToUpper(string(item.Media.Type))) {
	case MediaTypeImage:
		item.Media.Type = MediaTypeImage
	case MediaTypeVideo:
		item.Media.Type = MediaTypeVideo
	default:
		item.Media = nil
		return
	}
	if item.Media.Duration != nil && *item.Media.Duration < 0 {
		item.Media.Duration = nil
	}
}

func normalizeOrientation(o Orientation) Orientation {
	if Orientation(strings.ToUpper(string(o))) == OrientationPortrait {
		return OrientationPortrait
	}
	return OrientationLandscape
}
