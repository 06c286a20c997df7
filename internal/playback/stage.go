package playback

import (
	"fmt"
	"sync"

	"github.com/marquee-signage/marquee/internal/models"
	"github.com/marquee-signage/marquee/internal/resolver"
	"go.uber.org/zap"
)

// ScreenZone is the name of the single zone a playlist plays in.
const ScreenZone = "screen"

// StageStatus is a snapshot of everything on screen.
type StageStatus struct {
	ContentKey string       `json:"content-key"`
	Zones      []ZoneStatus `json:"zones"`
}

// Stage owns the zones for the current resolution. Zones are only torn down
// when the content key changes, so republishing the same content never
// restarts playback.
type Stage struct {
	logger  *zap.SugaredLogger
	player  Player
	urls    URLResolver
	options ZoneOptions

	mu    sync.Mutex
	key   string
	zones map[string]*Zone
	order []string
}

func NewStage(logger *zap.SugaredLogger, player Player, urls URLResolver, options ZoneOptions) *Stage {
	return &Stage{
		logger:  logger,
		player:  player,
		urls:    urls,
		options: options,
		zones:   map[string]*Zone{},
	}
}

type zoneSpec struct {
	name     string
	geometry Geometry
	items    []models.Item
	loop     bool
}

// zoneSpecs lists the zones of a resolution in z-index order.
func zoneSpecs(res resolver.Resolution) []zoneSpec {
	switch res.Kind {
	case resolver.KindPlaylist:
		return []zoneSpec{{name: ScreenZone, geometry: FullScreen, items: res.Playlist.Items, loop: true}}
	case resolver.KindLayout:
		specs := make([]zoneSpec, 0, len(res.Layout.Sections))
		for i, section := range res.Layout.Sections {
			name := section.ID
			if name == "" {
				name = fmt.Sprintf("section-%d", i)
			}
			specs = append(specs, zoneSpec{
				name: name,
				geometry: Geometry{
					X:      section.X,
					Y:      section.Y,
					Width:  section.Width,
					Height: section.Height,
					Z:      section.Order,
				},
				items: section.Items,
				loop:  section.LoopEnabled,
			})
		}
		return specs
	default:
		return nil
	}
}

// Apply shows res. The same content key updates the running zones in place;
// a new key stops every zone before the new ones start.
func (s *Stage) Apply(res resolver.Resolution) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := res.ContentKey()
	if key != s.key {
		s.logger.Infof("Content changed from %q to %q", s.key, key)
		for _, name := range s.order {
			s.zones[name].Stop()
		}
		s.zones = map[string]*Zone{}
		s.order = nil
		s.key = key
	}

	specs := zoneSpecs(res)
	wanted := make(map[string]struct{}, len(specs))
	order := make([]string, 0, len(specs))
	for _, spec := range specs {
		wanted[spec.name] = struct{}{}
		order = append(order, spec.name)
		zone, ok := s.zones[spec.name]
		if !ok {
			zone = NewZone(spec.name, s.logger, s.player, s.urls, spec.geometry, s.options)
			s.zones[spec.name] = zone
		}
		zone.Configure(key, spec.geometry, spec.items, spec.loop)
	}
	// sections removed from a layout that is otherwise unchanged
	for _, name := range s.order {
		if _, ok := wanted[name]; !ok {
			s.zones[name].Stop()
			delete(s.zones, name)
		}
	}
	s.order = order
}

// Handle routes a renderer event to its zone.
func (s *Stage) Handle(zone string, token uint64, event Event) {
	s.mu.Lock()
	z, ok := s.zones[zone]
	s.mu.Unlock()
	if !ok {
		s.logger.Debugf("Dropping %s event for unknown zone %s", event, zone)
		return
	}
	z.Handle(token, event)
}

// Stop tears every zone down.
func (s *Stage) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range s.order {
		s.zones[name].Stop()
	}
	s.zones = map[string]*Zone{}
	s.order = nil
	s.key = ""
}

func (s *Stage) ContentKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key
}

func (s *Stage) Status() StageStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := StageStatus{ContentKey: s.key}
	for _, name := range s.order {
		status.Zones = append(status.Zones, s.zones[name].Status())
	}
	return status
}
