package client

import (
	"context"
	"net/http"
)

// Settings mirrors the daemon's settings document.
type Settings struct {
	ProxyPort      int    `json:"proxy_port"`
	PanelPort      int    `json:"panel_port"`
	PanelBinding   string `json:"panel_binding"`
	CustomEndpoint string `json:"custom_endpoint,omitempty"`
	TLSEnabled     bool   `json:"tls_enabled"`
	TLSCertPath    string `json:"tls_cert_path,omitempty"`
	TLSKeyPath     string `json:"tls_key_path,omitempty"`
	AllowedOrigins string `json:"allowed_origins,omitempty"`
}

// SettingsUpdate carries partial settings changes. Nil fields are left
// untouched.
type SettingsUpdate struct {
	ProxyPort      *int    `json:"proxy_port,omitempty"`
	PanelPort      *int    `json:"panel_port,omitempty"`
	PanelBinding   *string `json:"panel_binding,omitempty"`
	CustomEndpoint *string `json:"custom_endpoint,omitempty"`
	TLSEnabled     *bool   `json:"tls_enabled,omitempty"`
	TLSCertPath    *string `json:"tls_cert_path,omitempty"`
	TLSKeyPath     *string `json:"tls_key_path,omitempty"`
	AllowedOrigins *string `json:"allowed_origins,omitempty"`
}

// SettingsResult is the daemon's reply to a settings update, flagging
// whether the change needs a daemon restart or a tunnel reconnect to
// take effect.
type SettingsResult struct {
	Settings          Settings `json:"settings"`
	RestartRequired   bool     `json:"restart_required"`
	ReconnectRequired bool     `json:"reconnect_required"`
}

// Settings fetches the daemon's current settings.
func (c *Client) Settings(ctx context.Context) (Settings, error) {
	var settings Settings
	err := c.doJSON(ctx, http.MethodGet, "/api/settings", nil, &settings)
	return settings, err
}

// UpdateSettings applies a partial settings change.
func (c *Client) UpdateSettings(ctx context.Context, update SettingsUpdate) (SettingsResult, error) {
	var result SettingsResult
	err := c.doJSON(ctx, http.MethodPut, "/api/settings", update, &result)
	return result, err
}
