// Package resolver decides what a display shows for a fetched config.
package resolver

import (
	"sort"

	"github.com/marquee-signage/marquee/internal/models"
)

type Kind string

const (
	KindNone     Kind = "none"
	KindLayout   Kind = "layout"
	KindPlaylist Kind = "playlist"
)

// Resolution holds at most one of Layout or Playlist. Both only carry
// playable items, sorted in playback order; layout sections are sorted by
// z-index and empty sections are dropped.
type Resolution struct {
	Kind     Kind
	Layout   *models.Layout
	Playlist *models.Playlist
	// Schedule is informational only.
	Schedule *models.ScheduleSummary
}

// Resolve applies the precedence rule: a layout with playable items wins,
// then a playlist with playable items, else standby.
func Resolve(cfg *models.ResolvedConfig) Resolution {
	if cfg == nil {
		return Resolution{Kind: KindNone}
	}
	res := Resolution{Kind: KindNone, Schedule: cfg.ActiveSchedule}
	if layout := playableLayout(cfg.Layout); layout != nil {
		res.Kind = KindLayout
		res.Layout = layout
		return res
	}
	if playlist := playablePlaylist(cfg.Playlist); playlist != nil {
		res.Kind = KindPlaylist
		res.Playlist = playlist
	}
	return res
}

func playableLayout(in *models.Layout) *models.Layout {
	if in == nil {
		return nil
	}
	out := *in
	out.Sections = nil
	for _, section := range in.Sections {
		items := playable(section.Items)
		if len(items) == 0 {
			continue
		}
		section.Items = items
		out.Sections = append(out.Sections, section)
	}
	if len(out.Sections) == 0 {
		return nil
	}
	sort.SliceStable(out.Sections, func(a, b int) bool {
		return out.Sections[a].Order < out.Sections[b].Order
	})
	return &out
}

func playablePlaylist(in *models.Playlist) *models.Playlist {
	if in == nil {
		return nil
	}
	items := playable(in.Items)
	if len(items) == 0 {
		return nil
	}
	out := *in
	out.Items = items
	return &out
}

func playable(items []models.Item) []models.Item {
	var out []models.Item
	for _, item := range items {
		if item.Playable() {
			out = append(out, item)
		}
	}
	return models.SortItems(out)
}

// ContentKey identifies the content for reconfiguration: zones keep their
// position when the key is unchanged.
func (r Resolution) ContentKey() string {
	switch r.Kind {
	case KindLayout:
		return "layout:" + r.Layout.ID
	case KindPlaylist:
		return "playlist:" + r.Playlist.ID
	default:
		return string(KindNone)
	}
}

// Items returns every item the resolution will play.
func (r Resolution) Items() []models.Item {
	switch r.Kind {
	case KindLayout:
		var items []models.Item
		for _, s := range r.Layout.Sections {
			items = append(items, s.Items...)
		}
		return items
	case KindPlaylist:
		return r.Playlist.Items
	default:
		return nil
	}
}

// Referenced returns the sorted set of media URLs the resolution needs.
func (r Resolution) Referenced() []string {
	return uniqueURLs(r.Items())
}

// ReferencedURLs returns the sorted set of media URLs of every playable item
// in cfg, layout and playlist alike, whichever of them wins.
func ReferencedURLs(cfg *models.ResolvedConfig) []string {
	if cfg == nil {
		return nil
	}
	var items []models.Item
	if cfg.Layout != nil {
		for _, section := range cfg.Layout.Sections {
			items = append(items, playable(section.Items)...)
		}
	}
	if cfg.Playlist != nil {
		items = append(items, playable(cfg.Playlist.Items)...)
	}
	return uniqueURLs(items)
}

func uniqueURLs(items []models.Item) []string {
	seen := map[string]struct{}{}
	var urls []string
	for _, item := range items {
		if _, ok := seen[item.Media.URL]; ok {
			continue
		}
		seen[item.Media.URL] = struct{}{}
		urls = append(urls, item.Media.URL)
	}
	sort.Strings(urls)
	return urls
}
