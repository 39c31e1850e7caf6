package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/lumina-panel/lumina/internal/conn"
	"github.com/lumina-panel/lumina/internal/eventhub"
)

// Status returns the current connection status.
func (c *Client) Status(ctx context.Context) (conn.Status, error) {
	var status conn.Status
	err := c.doJSON(ctx, http.MethodGet, "/api/status", nil, &status)
	return status, err
}

// Connect brings the tunnel up and returns the resulting status.
func (c *Client) Connect(ctx context.Context) (conn.Status, error) {
	var status conn.Status
	err := c.doJSON(ctx, http.MethodPost, "/api/connect", nil, &status)
	return status, err
}

// Disconnect tears the tunnel down and returns the resulting status.
func (c *Client) Disconnect(ctx context.Context) (conn.Status, error) {
	var status conn.Status
	err := c.doJSON(ctx, http.MethodPost, "/api/disconnect", nil, &status)
	return status, err
}

// Rotate requests a fresh egress identity.
func (c *Client) Rotate(ctx context.Context) (conn.RotateResult, error) {
	var result conn.RotateResult
	err := c.doJSON(ctx, http.MethodPost, "/api/rotate", nil, &result)
	return result, err
}

// Reset clears a stuck error state and returns the resulting status.
func (c *Client) Reset(ctx context.Context) (conn.Status, error) {
	var status conn.Status
	err := c.doJSON(ctx, http.MethodPost, "/api/reset", nil, &status)
	return status, err
}

// SwitchBackend changes the active tunnel engine.
func (c *Client) SwitchBackend(ctx context.Context, backend string) (conn.Status, error) {
	var status conn.Status
	payload := map[string]string{"backend": backend}
	err := c.doJSON(ctx, http.MethodPost, "/api/backend/switch", payload, &status)
	return status, err
}

// LogPage is one page of daemon events.
type LogPage struct {
	Events   []eventhub.Event `json:"events"`
	Dropped  bool             `json:"dropped"`
	LatestID uint64           `json:"latest_id"`
}

// Logs fetches events newer than sinceID. A limit of 0 uses the
// daemon's default page size.
func (c *Client) Logs(ctx context.Context, sinceID uint64, limit int) (LogPage, error) {
	query := url.Values{}
	query.Set("since_id", strconv.FormatUint(sinceID, 10))
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var page LogPage
	err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/api/logs?%s", query.Encode()), nil, &page)
	return page, err
}
