package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lumina-panel/lumina/internal/nodes"
)

// AddNodeRequest registers a remote instance with the local federation
// registry.
type AddNodeRequest struct {
	Name    string `json:"name"`
	BaseURL string `json:"base_url"`
	Token   string `json:"token"`
}

// UpdateNodeRequest carries the fields to change on an existing node.
// Nil fields are left untouched.
type UpdateNodeRequest struct {
	Name    *string `json:"name,omitempty"`
	BaseURL *string `json:"base_url,omitempty"`
	Token   *string `json:"token,omitempty"`
	Enabled *bool   `json:"enabled,omitempty"`
}

// Nodes lists the registered federation nodes.
func (c *Client) Nodes(ctx context.Context) ([]nodes.View, error) {
	var payload struct {
		Nodes []nodes.View `json:"nodes"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/nodes", nil, &payload); err != nil {
		return nil, err
	}
	return payload.Nodes, nil
}

// Node fetches a single node by id.
func (c *Client) Node(ctx context.Context, id string) (nodes.View, error) {
	var view nodes.View
	err := c.doJSON(ctx, http.MethodGet, "/api/nodes/"+id, nil, &view)
	return view, err
}

// AddNode registers a new remote node.
func (c *Client) AddNode(ctx context.Context, req AddNodeRequest) (nodes.View, error) {
	var view nodes.View
	err := c.doJSON(ctx, http.MethodPost, "/api/nodes", req, &view)
	return view, err
}

// UpdateNode changes an existing node's registration.
func (c *Client) UpdateNode(ctx context.Context, id string, req UpdateNodeRequest) (nodes.View, error) {
	var view nodes.View
	err := c.doJSON(ctx, http.MethodPut, "/api/nodes/"+id, req, &view)
	return view, err
}

// DeleteNode removes a remote node from the registry.
func (c *Client) DeleteNode(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/nodes/"+id, nil, nil)
}

// NodesOverview fetches every node's registration plus its live status,
// gathered by the daemon's parallel fanout.
func (c *Client) NodesOverview(ctx context.Context) ([]nodes.NodeOverview, error) {
	var payload struct {
		Nodes []nodes.NodeOverview `json:"nodes"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/nodes/overview", nil, &payload); err != nil {
		return nil, err
	}
	return payload.Nodes, nil
}

// NodeAction relays a connection action (connect, disconnect, backend)
// to a node. The response body is the target daemon's reply.
func (c *Client) NodeAction(ctx context.Context, id, action string, body any) (json.RawMessage, error) {
	var raw json.RawMessage
	path := fmt.Sprintf("/api/nodes/%s/%s", id, action)
	if err := c.doJSON(ctx, http.MethodPost, path, body, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}
