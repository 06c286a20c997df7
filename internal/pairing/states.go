package pairing

import (
	"fmt"

	"github.com/marquee-signage/marquee/internal/models"
)

type Kind string

const (
	KindIdle     Kind = "idle"
	KindChecking Kind = "checking"
	KindPairing  Kind = "pairing"
	KindPaired   Kind = "paired"
	KindError    Kind = "error"
)

// State is one of Idle, Checking, Pairing, Paired or Error.
type State interface {
	Kind() Kind
	fmt.Stringer
}

// Idle is the rest state. It is also shown while a fresh code is requested.
type Idle struct{}

// Checking revalidates a display id the device already knows.
type Checking struct {
	DisplayID string
}

// Pairing waits for an operator to claim Code.
type Pairing struct {
	Code models.PairingCode
}

// Paired holds the identity the paired tasks authorize with.
type Paired struct {
	Identity models.DeviceIdentity
}

// Error is shown until Retry. Timeout distinguishes an unreachable backend
// from one that answered with a failure.
type Error struct {
	Message string
	Timeout bool
}

func (Idle) Kind() Kind     { return KindIdle }
func (Checking) Kind() Kind { return KindChecking }
func (Pairing) Kind() Kind  { return KindPairing }
func (Paired) Kind() Kind   { return KindPaired }
func (Error) Kind() Kind    { return KindError }

func (Idle) String() string       { return "idle" }
func (s Checking) String() string { return fmt.Sprintf("checking display %s", s.DisplayID) }
func (s Pairing) String() string  { return fmt.Sprintf("pairing with code %s", s.Code.Code) }
func (s Paired) String() string   { return fmt.Sprintf("paired as display %s", s.Identity.DisplayID) }
func (s Error) String() string    { return "error: " + s.Message }

// ConnectionTimeoutMessage is the Error message used when the backend could
// not be reached in time.
const ConnectionTimeoutMessage = "connection timeout"
