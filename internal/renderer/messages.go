package renderer

import "github.com/marquee-signage/marquee/internal/playback"

// ScreenKind tells the renderer what to draw when it is not playing content.
type ScreenKind string

const (
	ScreenConnecting ScreenKind = "connecting"
	ScreenPairing    ScreenKind = "pairing"
	ScreenError      ScreenKind = "error"
	ScreenStandby    ScreenKind = "standby"
	ScreenPlaying    ScreenKind = "playing"
)

type Screen struct {
	Kind    ScreenKind `json:"kind"`
	Code    string     `json:"code,omitempty"`
	Message string     `json:"message,omitempty"`
	// Offline is shown as a small badge over any screen.
	Offline bool `json:"offline,omitempty"`
}

const (
	MessageScreen = "screen"
	MessageShow   = "show"
	MessageClear  = "clear"
)

// outbound is pushed to every connected renderer.
type outbound struct {
	Type   string         `json:"type"`
	Screen *Screen        `json:"screen,omitempty"`
	Show   *playback.Show `json:"show,omitempty"`
	Zone   string         `json:"zone,omitempty"`
}

// inbound is a playback event reported by a renderer.
type inbound struct {
	Type  string `json:"type"`
	Zone  string `json:"zone"`
	Token uint64 `json:"token"`
}
