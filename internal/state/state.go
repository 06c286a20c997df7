package state

import (
	"errors"
	"fmt"

	"github.com/marquee-signage/marquee/internal/models"
)

// ErrTokenWithoutDisplay is returned when asked to persist a device token
// that is not bound to a display id.
var ErrTokenWithoutDisplay = errors.New("device token without a display id")

// State is everything a display keeps across restarts.
type State struct {
	// InstallationID identifies this install of the agent, independent of pairing.
	InstallationID string `json:"installation-id"`
	// Identity is set once pairing succeeds.
	Identity *models.DeviceIdentity `json:"identity,omitempty"`
	// PendingDisplayID is the display the backend issued a pairing code for,
	// kept so an unpaired display resumes with the same code after a restart.
	PendingDisplayID string `json:"pending-display-id,omitempty"`
	// LastKnownGood is the most recent successfully fetched config.
	LastKnownGood *models.ResolvedConfig `json:"last-known-good,omitempty"`
}

// Paired reports whether a usable identity is stored.
func (s *State) Paired() bool {
	return s != nil && s.Identity.Valid()
}

// KnownDisplayID returns the display id to revalidate, paired or not.
func (s *State) KnownDisplayID() string {
	if s == nil {
		return ""
	}
	if s.Identity != nil && s.Identity.DisplayID != "" {
		return s.Identity.DisplayID
	}
	return s.PendingDisplayID
}

// ClearIdentity forgets the pairing and everything fetched with it.
func (s *State) ClearIdentity() {
	s.Identity = nil
	s.PendingDisplayID = ""
	s.LastKnownGood = nil
}

// Validate checks the invariants of a state before it is persisted.
func (s *State) Validate() error {
	if s.Identity != nil && s.Identity.DeviceToken != "" && s.Identity.DisplayID == "" {
		return ErrTokenWithoutDisplay
	}
	return nil
}

// Store persists State. The returned State from State() is a snapshot and
// must not be modified; use Update to change it.
type Store interface {
	fmt.Stringer
	Load() error
	Store() error
	State() State
	// Update applies fn to the current state and persists the result.
	Update(fn func(s *State)) error
}
