package client

import (
	"context"
	"errors"
	"net/http"
)

// DaemonStatus is the daemon's self-description.
type DaemonStatus struct {
	Version    string  `json:"version"`
	Port       int     `json:"port"`
	Binding    string  `json:"binding"`
	WSClients  int     `json:"ws_clients"`
	Uptime     float64 `json:"uptime,omitempty"`
	TLSEnabled bool    `json:"tls_enabled,omitempty"`
}

// DaemonStatus fetches the daemon's version, transport and uptime.
func (c *Client) DaemonStatus(ctx context.Context) (DaemonStatus, error) {
	var status DaemonStatus
	err := c.doJSON(ctx, http.MethodGet, "/api/daemon/status", nil, &status)
	return status, err
}

// ShutdownDaemon asks the daemon to exit. The tunnel engine is left
// running; a later daemon start re-adopts it.
func (c *Client) ShutdownDaemon(ctx context.Context) error {
	err := c.doJSON(ctx, http.MethodPost, "/api/daemon/shutdown", nil, nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotImplemented {
			return ErrShutdownUnavailable
		}
		return err
	}
	return nil
}
