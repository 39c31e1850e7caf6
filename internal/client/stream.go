package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const websocketHandshakeTimeout = 10 * time.Second

// StatusFrame is one message from the /ws/status stream.
type StatusFrame struct {
	Type string          `json:"type"` // "status" | "log"
	Data json.RawMessage `json:"data"`
}

// StatusStream is a live /ws/status connection.
type StatusStream struct {
	conn *websocket.Conn
}

// WatchStatus opens the daemon's status stream. Events newer than
// sinceID are backfilled first; sinceID 0 yields a snapshot only. The
// caller must Close the stream.
func (c *Client) WatchStatus(ctx context.Context, sinceID uint64) (*StatusStream, error) {
	wsURL, err := c.statusStreamURL(sinceID)
	if err != nil {
		return nil, err
	}

	dialer := &websocket.Dialer{
		HandshakeTimeout: websocketHandshakeTimeout,
		TLSClientConfig:  c.tlsConfig,
	}

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("client: status stream rejected: not authenticated")
		}
		return nil, fmt.Errorf("client: dial status stream: %w", err)
	}

	return &StatusStream{conn: conn}, nil
}

func (c *Client) statusStreamURL(sinceID uint64) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("client: parse base URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("client: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/status"
	if sinceID > 0 {
		query := u.Query()
		query.Set("since_id", strconv.FormatUint(sinceID, 10))
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}

// Next blocks for the next frame from the stream.
func (s *StatusStream) Next() (StatusFrame, error) {
	var frame StatusFrame
	if err := s.conn.ReadJSON(&frame); err != nil {
		return StatusFrame{}, err
	}
	return frame, nil
}

// Close tears the stream down.
func (s *StatusStream) Close() error {
	return s.conn.Close()
}
