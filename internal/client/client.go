// Package client talks to the luminad HTTP API on behalf of the lumina
// CLI. It resolves the daemon address and TLS settings from the config
// store and carries the operator's session token.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	maxErrorBody       = 8 << 10
)

// ErrShutdownUnavailable indicates the daemon does not expose the
// shutdown endpoint.
var ErrShutdownUnavailable = errors.New("daemon shutdown endpoint unavailable")

// Client communicates with the daemon over HTTP and WebSocket.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
	tlsConfig  *tls.Config
}

func newClientWithConfig(baseURL string, tlsConfig *tls.Config, token string) *Client {
	httpClient := &http.Client{Timeout: defaultHTTPTimeout}
	if tlsConfig != nil {
		httpClient.Transport = &http.Transport{TLSClientConfig: tlsConfig}
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		token:      strings.TrimSpace(token),
		tlsConfig:  tlsConfig,
	}
}

// NewInitialisedClient constructs a client from explicit parameters.
func NewInitialisedClient(baseURL, token string, tlsConfig *tls.Config) *Client {
	return newClientWithConfig(baseURL, tlsConfig, token)
}

// New builds a client for the default instance. LUMINA_BASE_URL overrides
// the store-derived address, for pointing the CLI at a remote daemon.
func New() (*Client, error) {
	if base := strings.TrimSpace(os.Getenv("LUMINA_BASE_URL")); base != "" {
		return newFromExplicit(base)
	}
	return newFromStore()
}

func newFromStore() (*Client, error) {
	cfg, err := LoadTransportSettings()
	if err != nil {
		return nil, err
	}

	// Every supported binding also listens on loopback, so a local CLI
	// always dials 127.0.0.1.
	host := "127.0.0.1"
	if override := strings.TrimSpace(os.Getenv("LUMINA_DAEMON_HOST")); override != "" {
		host = override
	}

	tlsConfig, err := PrepareTLSConfig(cfg, host)
	if err != nil {
		return nil, err
	}

	scheme := "http"
	if tlsConfig != nil {
		scheme = "https"
	}
	baseURL := fmt.Sprintf("%s://%s:%d", scheme, host, cfg.Port)

	token := strings.TrimSpace(os.Getenv("LUMINA_API_TOKEN"))
	if token == "" {
		token = LoadToken()
	}

	return newClientWithConfig(baseURL, tlsConfig, token), nil
}

func newFromExplicit(raw string) (*Client, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("client: parse LUMINA_BASE_URL: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("client: LUMINA_BASE_URL missing host")
	}

	tlsConfig, err := TLSConfigForExplicit(u)
	if err != nil {
		return nil, err
	}

	token := strings.TrimSpace(os.Getenv("LUMINA_API_TOKEN"))
	if token == "" {
		token = LoadToken()
	}

	return newClientWithConfig(u.String(), tlsConfig, token), nil
}

// BaseURL returns the base HTTP URL the client is configured to use.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Token returns the bearer token configured for the client, if any.
func (c *Client) Token() string {
	return c.token
}

// SetToken replaces the session token for subsequent requests.
func (c *Client) SetToken(token string) {
	c.token = strings.TrimSpace(token)
}

func (c *Client) addAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// doJSON performs a request with an optional JSON body and decodes the
// JSON response into out (when out is non-nil).
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.addAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Err: readAPIError(resp)}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}
	return nil
}

// APIError carries the HTTP status alongside the server's error message.
type APIError struct {
	StatusCode int
	Err        error
}

func (e *APIError) Error() string {
	return e.Err.Error()
}

func (e *APIError) Unwrap() error {
	return e.Err
}

func readAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if len(body) == 0 {
		return errors.New(resp.Status)
	}
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "{") {
		var payload struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal([]byte(trimmed), &payload); err == nil {
			if msg := strings.TrimSpace(payload.Error); msg != "" {
				return errors.New(msg)
			}
		}
	}
	return errors.New(trimmed)
}
