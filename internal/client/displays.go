package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/marquee-signage/marquee/internal/models"
)

// RequestPairingCode asks the backend for a fresh pairing code and the id of
// the display record it created for it.
func (c *Client) RequestPairingCode(ctx context.Context) (models.PairingCode, error) {
	var result models.PairingCode
	if err := c.do(ctx, http.MethodPost, "/displays/pairing-code", "", struct{}{}, &result); err != nil {
		return models.PairingCode{}, err
	}
	if result.Code == "" || result.DisplayID == "" {
		return models.PairingCode{}, fmt.Errorf("incomplete pairing code response")
	}
	return result, nil
}

// CheckPairingStatus polls whether an operator has claimed the code yet.
func (c *Client) CheckPairingStatus(ctx context.Context, code string) (models.CheckStatusResponse, error) {
	var result models.CheckStatusResponse
	err := c.do(ctx, http.MethodPost, "/displays/check-status", "", models.CheckStatusRequest{PairingCode: code}, &result)
	return result, err
}

// GetDisplayStatus revalidates a display id the device already knows.
func (c *Client) GetDisplayStatus(ctx context.Context, displayID string) (models.DisplayStatus, error) {
	var result models.DisplayStatus
	err := c.do(ctx, http.MethodGet, "/displays/"+url.PathEscape(displayID)+"/status", "", nil, &result)
	return result, err
}

func (c *Client) Heartbeat(ctx context.Context, displayID, token string) error {
	return c.do(ctx, http.MethodPost, "/displays/"+url.PathEscape(displayID)+"/heartbeat", token, nil, nil)
}

// GetPlayerConfig fetches what the display should be showing right now. The
// result is normalized before it is returned.
func (c *Client) GetPlayerConfig(ctx context.Context, token string) (*models.ResolvedConfig, error) {
	result := &models.ResolvedConfig{}
	if err := c.do(ctx, http.MethodGet, "/player/config", token, nil, result); err != nil {
		return nil, err
	}
	result.Normalize()
	return result, nil
}
