// Package playback schedules what every zone of the screen shows and when it
// moves on.
package playback

import (
	"sync"
	"time"

	"github.com/marquee-signage/marquee/internal/models"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

// Event is reported by the renderer for the play identified by a token.
type Event string

const (
	EventEnded Event = "ended"
	EventError Event = "error"
	// EventFatal is a media pipeline failure. The item is shown once more
	// before it is treated like EventError.
	EventFatal Event = "fatal"
)

// Geometry is a zone's rectangle in percent of the screen, plus its z-index.
type Geometry struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Z      int     `json:"z"`
}

// FullScreen is the geometry of a playlist.
var FullScreen = Geometry{Width: 100, Height: 100}

// Show asks the renderer to draw one item.
type Show struct {
	Zone      string    `json:"zone"`
	Token     uint64    `json:"token"`
	Geometry  Geometry  `json:"geometry"`
	URL       string    `json:"url"`
	MediaType string    `json:"mediaType"`
	Transform Transform `json:"transform"`
	// Loop asks the renderer to loop a video; a timer ends it.
	Loop bool `json:"loop"`
}

// Player draws what zones ask for. Calls are made with the zone lock held,
// so a Player must not call back into the zone synchronously.
type Player interface {
	Show(show Show)
	Clear(zone string)
}

// URLResolver maps a media URL to the URL the renderer should load.
type URLResolver interface {
	Resolve(url string) string
}

type ZoneOptions struct {
	Clock clock.WithDelayedExecution
	// StallTimeout, when set, advances a video that never reports an end.
	StallTimeout time.Duration
}

// ZoneStatus is a snapshot of a zone for status reporting.
type ZoneStatus struct {
	Name    string `json:"name"`
	Index   int    `json:"index"`
	Items   int    `json:"items"`
	Token   uint64 `json:"token"`
	Active  bool   `json:"active"`
	Current string `json:"current,omitempty"`
}

// Zone plays an ordered list of items. All state changes happen under mu and
// every show gets a new token, so each timer or renderer event advances at
// most once.
type Zone struct {
	name    string
	logger  *zap.SugaredLogger
	player  Player
	urls    URLResolver
	options ZoneOptions

	mu         sync.Mutex
	geometry   Geometry
	contentKey string
	items      []models.Item
	loop       bool
	index      int
	token      uint64
	timer      clock.Timer
	recovered  bool
	active     bool
	stopped    bool
}

func NewZone(name string, logger *zap.SugaredLogger, player Player, urls URLResolver, geometry Geometry, options ZoneOptions) *Zone {
	if options.Clock == nil {
		options.Clock = clock.RealClock{}
	}
	return &Zone{
		name:     name,
		logger:   logger.With("zone", name),
		player:   player,
		urls:     urls,
		options:  options,
		geometry: geometry,
	}
}

func (z *Zone) Name() string {
	return z.name
}

// Configure sets the zone's items. Items for the content already playing
// replace the old ones in place and keep the position and running timer;
// new content starts over from the first item.
func (z *Zone) Configure(contentKey string, geometry Geometry, items []models.Item, loop bool) {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.stopped {
		return
	}

	if contentKey == z.contentKey && len(z.items) > 0 {
		z.items = items
		z.loop = loop
		if len(items) == 0 {
			z.stopTimerLocked()
			z.active = false
			z.player.Clear(z.name)
			return
		}
		if z.index >= len(items) {
			z.index = len(items) - 1
		}
		if geometry != z.geometry {
			z.stopTimerLocked()
			z.geometry = geometry
			z.showLocked()
		}
		return
	}

	z.stopTimerLocked()
	z.contentKey = contentKey
	z.geometry = geometry
	z.items = items
	z.loop = loop
	z.index = 0
	if len(items) == 0 {
		z.active = false
		z.player.Clear(z.name)
		return
	}
	z.showLocked()
}

// Handle applies a renderer event. Events for any token but the current one
// are dropped.
func (z *Zone) Handle(token uint64, event Event) {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.stopped || !z.active || token != z.token {
		return
	}
	item := z.items[z.index]

	switch event {
	case EventEnded:
		if !item.IsVideo() || item.LoopsForDuration() {
			// the timer decides
			return
		}
		z.advanceLocked()
	case EventError:
		z.logger.Warnf("Playback of %s failed, skipping", item.Media.URL)
		z.advanceLocked()
	case EventFatal:
		if !z.recovered {
			z.logger.Warnf("Media pipeline failed for %s, showing it again", item.Media.URL)
			z.recovered = true
			z.stopTimerLocked()
			z.showItemLocked()
			return
		}
		z.logger.Warnf("Media pipeline failed again for %s, skipping", item.Media.URL)
		z.advanceLocked()
	default:
		z.logger.Debugf("Ignoring unknown event %q", event)
	}
}

// Stop cancels the timer and clears the zone. A stopped zone ignores
// everything.
func (z *Zone) Stop() {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.stopped {
		return
	}
	z.stopped = true
	z.active = false
	z.stopTimerLocked()
	z.player.Clear(z.name)
}

func (z *Zone) Status() ZoneStatus {
	z.mu.Lock()
	defer z.mu.Unlock()
	s := ZoneStatus{
		Name:   z.name,
		Index:  z.index,
		Items:  len(z.items),
		Token:  z.token,
		Active: z.active,
	}
	if z.index < len(z.items) {
		s.Current = z.items[z.index].Media.URL
	}
	return s
}

func (z *Zone) advanceLocked() {
	z.stopTimerLocked()
	switch {
	case z.index+1 < len(z.items):
		z.index++
	case z.loop:
		z.index = 0
	default:
		// the last item stays on screen
		z.active = false
		return
	}
	z.showLocked()
}

func (z *Zone) showLocked() {
	z.recovered = false
	z.showItemLocked()
}

// showItemLocked shows items[index] under a fresh token and arms the timer
// that ends it, if any.
func (z *Zone) showItemLocked() {
	z.token++
	z.active = true
	item := z.items[z.index]

	var d time.Duration
	switch {
	case !item.IsVideo(), item.LoopsForDuration():
		d = time.Duration(item.DurationSeconds()) * time.Second
	default:
		d = z.options.StallTimeout
	}
	if d > 0 {
		token := z.token
		// Some clocks run the callback while holding their own lock, and
		// expire re-arms the timer.
		z.timer = z.options.Clock.AfterFunc(d, func() {
			go z.expire(token)
		})
	}

	url := item.Media.URL
	if z.urls != nil {
		url = z.urls.Resolve(url)
	}
	z.player.Show(Show{
		Zone:      z.name,
		Token:     z.token,
		Geometry:  z.geometry,
		URL:       url,
		MediaType: string(item.Media.Type),
		Transform: TransformFor(item),
		Loop:      item.LoopsForDuration(),
	})
}

func (z *Zone) expire(token uint64) {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.stopped || token != z.token {
		return
	}
	z.advanceLocked()
}

func (z *Zone) stopTimerLocked() {
	if z.timer != nil {
		z.timer.Stop()
		z.timer = nil
	}
}
