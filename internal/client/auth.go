package client

import (
	"context"
	"net/http"
)

// AuthStatus reports whether an admin password has been configured.
func (c *Client) AuthStatus(ctx context.Context) (bool, error) {
	var payload struct {
		Initialized bool `json:"initialized"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/auth/status", nil, &payload); err != nil {
		return false, err
	}
	return payload.Initialized, nil
}

// Setup configures the initial admin password and returns a session
// token. Fails once a password exists.
func (c *Client) Setup(ctx context.Context, password string) (string, error) {
	var payload struct {
		Token string `json:"token"`
	}
	body := map[string]string{"password": password}
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/setup", body, &payload); err != nil {
		return "", err
	}
	c.SetToken(payload.Token)
	return payload.Token, nil
}

// Login exchanges the admin password for a session token and installs
// it on the client.
func (c *Client) Login(ctx context.Context, password string) (string, error) {
	var payload struct {
		Token string `json:"token"`
	}
	body := map[string]string{"password": password}
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/login", body, &payload); err != nil {
		return "", err
	}
	c.SetToken(payload.Token)
	return payload.Token, nil
}

// CheckAuth verifies the client's session token is still valid.
func (c *Client) CheckAuth(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/api/auth/check", nil, nil)
}

// ChangePassword rotates the admin password. Every session except the
// caller's is revoked.
func (c *Client) ChangePassword(ctx context.Context, current, next string) error {
	body := map[string]string{
		"current_password": current,
		"new_password":     next,
	}
	return c.doJSON(ctx, http.MethodPost, "/api/auth/password", body, nil)
}

// Logout revokes the client's session token.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/logout", nil, nil); err != nil {
		return err
	}
	c.SetToken("")
	return nil
}

// LogoutAll revokes every session. With keepCurrent the caller's own
// session and token stay valid.
func (c *Client) LogoutAll(ctx context.Context, keepCurrent bool) error {
	body := map[string]bool{"keep_current": keepCurrent}
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/logout-all", body, nil); err != nil {
		return err
	}
	if !keepCurrent {
		c.SetToken("")
	}
	return nil
}
