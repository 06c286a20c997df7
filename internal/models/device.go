package models

// DeviceIdentity is what a display keeps once pairing succeeds.
type DeviceIdentity struct {
	DisplayID   string `json:"display-id"`
	DeviceToken string `json:"device-token"`
}

// Valid reports whether the identity can authorize paired calls. A token
// without a display id is never valid.
func (d *DeviceIdentity) Valid() bool {
	return d != nil && d.DisplayID != "" && d.DeviceToken != ""
}

// PairingCode is issued by the backend for a display that has not been claimed yet.
type PairingCode struct {
	Code      string `json:"pairingCode"`
	DisplayID string `json:"displayId"`
}

// CheckStatusRequest is the body of a pairing status check.
type CheckStatusRequest struct {
	PairingCode string `json:"pairingCode"`
}

// CheckStatusResponse is returned while a display waits to be claimed.
type CheckStatusResponse struct {
	IsPaired    bool   `json:"isPaired"`
	DeviceToken string `json:"deviceToken,omitempty"`
	DisplayID   string `json:"displayId,omitempty"`
}

// DisplayStatus describes a display the backend already knows about.
type DisplayStatus struct {
	ID          string `json:"id"`
	PairingCode string `json:"pairingCode"`
	IsPaired    bool   `json:"isPaired"`
	DeviceToken string `json:"deviceToken,omitempty"`
}
