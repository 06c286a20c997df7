package marquee

import (
	"github.com/marquee-signage/marquee/internal/configsync"
	"github.com/marquee-signage/marquee/internal/heartbeat"
	"github.com/marquee-signage/marquee/internal/mediacache"
	"github.com/marquee-signage/marquee/internal/netmon"
	"github.com/marquee-signage/marquee/internal/pairing"
	"github.com/marquee-signage/marquee/internal/playback"
	"github.com/marquee-signage/marquee/internal/renderer"
)

// Status is the document served by the control socket and the renderer
// bridge's /status endpoint.
type Status struct {
	Version        string               `json:"version"`
	Status         string               `json:"status"`
	Message        string               `json:"message,omitempty"`
	InstallationID string               `json:"installation-id"`
	BackendURL     string               `json:"backend-url"`
	Pairing        pairing.Kind         `json:"pairing"`
	PairingCode    string               `json:"pairing-code,omitempty"`
	DisplayID      string               `json:"display-id,omitempty"`
	Screen         renderer.Screen      `json:"screen"`
	Renderers      int                  `json:"renderers"`
	Network        netmon.Status        `json:"network"`
	Heartbeat      *heartbeat.Status    `json:"heartbeat,omitempty"`
	Config         *configsync.Status   `json:"config,omitempty"`
	Playback       playback.StageStatus `json:"playback"`
	Cache          mediacache.Stats     `json:"cache"`
}

func statusString(status int) string {
	switch status {
	case MarqueeStatusStarting:
		return "Starting"
	case MarqueeStatusPairing:
		return "WaitingForPairing"
	case MarqueeStatusRunning:
		return "Running"
	case MarqueeStatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

func (mq *Marquee) Status() Status {
	st := mq.store.State()
	ps := mq.machine.State()

	mq.mu.Lock()
	status := Status{
		Version:        mq.version,
		Status:         statusString(mq.status),
		Message:        mq.statusMsg,
		InstallationID: st.InstallationID,
		BackendURL:     mq.config.BackendURL,
		Pairing:        ps.Kind(),
		Screen:         mq.screen,
	}
	session := mq.session
	mq.mu.Unlock()

	switch ps := ps.(type) {
	case pairing.Pairing:
		status.PairingCode = ps.Code.Code
		status.DisplayID = ps.Code.DisplayID
	case pairing.Checking:
		status.DisplayID = ps.DisplayID
	case pairing.Paired:
		status.DisplayID = ps.Identity.DisplayID
	}
	if session != nil {
		hb := session.heartbeat.Status()
		cs := session.poller.Status()
		status.Heartbeat = &hb
		status.Config = &cs
	}
	status.Renderers = mq.bridge.Renderers()
	status.Network = mq.netmon.Status()
	status.Playback = mq.stage.Status()
	status.Cache = mq.cache.Stats()
	return status
}
