package renderer

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/marquee-signage/marquee/internal/playback"
	"go.uber.org/zap"
)

// hub fans messages out to renderers and remembers the current screen and
// the last show per zone, so a renderer that (re)connects catches up.
type hub struct {
	logger  *zap.SugaredLogger
	onEvent func(zone string, token uint64, event playback.Event)

	mu      sync.Mutex
	clients map[*client]struct{}
	screen  Screen
	shows   map[string]playback.Show
}

func newHub(logger *zap.SugaredLogger, onEvent func(zone string, token uint64, event playback.Event)) *hub {
	return &hub{
		logger:  logger,
		onEvent: onEvent,
		clients: map[*client]struct{}{},
		screen:  Screen{Kind: ScreenConnecting},
		shows:   map[string]playback.Show{},
	}
}

func (h *hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}

	screen := h.screen
	h.enqueueLocked(c, outbound{Type: MessageScreen, Screen: &screen})
	shows := make([]playback.Show, 0, len(h.shows))
	for _, s := range h.shows {
		shows = append(shows, s)
	}
	sort.Slice(shows, func(a, b int) bool {
		return shows[a].Geometry.Z < shows[b].Geometry.Z
	})
	for i := range shows {
		h.enqueueLocked(c, outbound{Type: MessageShow, Show: &shows[i]})
	}
	h.logger.Infof("Renderer %s connected", c.id)
}

func (h *hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		h.logger.Infof("Renderer %s disconnected", c.id)
	}
}

func (h *hub) setScreen(screen Screen) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if screen == h.screen {
		return
	}
	h.screen = screen
	h.broadcastLocked(outbound{Type: MessageScreen, Screen: &screen})
}

func (h *hub) show(show playback.Show) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.shows[show.Zone] = show
	h.broadcastLocked(outbound{Type: MessageShow, Show: &show})
}

func (h *hub) clear(zone string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.shows, zone)
	h.broadcastLocked(outbound{Type: MessageClear, Zone: zone})
}

func (h *hub) event(msg inbound) {
	switch playback.Event(msg.Type) {
	case playback.EventEnded, playback.EventError, playback.EventFatal:
	default:
		h.logger.Debugf("Ignoring renderer message of type %q", msg.Type)
		return
	}
	if h.onEvent != nil {
		h.onEvent(msg.Zone, msg.Token, playback.Event(msg.Type))
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *hub) broadcastLocked(msg outbound) {
	for c := range h.clients {
		h.enqueueLocked(c, msg)
	}
}

// enqueueLocked never blocks: a renderer that cannot keep up is dropped and
// catches up from the replayed state when it reconnects.
func (h *hub) enqueueLocked(c *client, msg outbound) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Errorf("Failed to encode %s message: %v", msg.Type, err)
		return
	}
	select {
	case c.send <- data:
	default:
		h.logger.Warnf("Renderer %s is not keeping up, disconnecting", c.id)
		delete(h.clients, c)
		close(c.send)
	}
}
