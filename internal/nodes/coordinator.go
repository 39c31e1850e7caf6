package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	configstore "github.com/lumina-panel/lumina/internal/config/store"
	"github.com/lumina-panel/lumina/internal/constants"
)

const maxRelayBody = 4 * 1024 * 1024 // 4 MB

// LocalStatusFunc supplies the local node's connection snapshot for the
// overview without a network round trip.
type LocalStatusFunc func(ctx context.Context) (any, error)

// Options configures a Coordinator.
type Options struct {
	Store *configstore.Store

	// LocalStatus answers the overview for the local record.
	LocalStatus LocalStatusFunc

	// HTTPClient overrides the outbound client, mainly for tests. Per-call
	// deadlines come from contexts, not the client.
	HTTPClient *http.Client

	// NodeTimeout overrides the per-node overview deadline, mainly for
	// tests. Defaults to constants.FederationNodeTimeout.
	NodeTimeout time.Duration
}

// Coordinator owns the node registry and talks to remote daemons.
type Coordinator struct {
	store       *configstore.Store
	local       LocalStatusFunc
	client      *http.Client
	nodeTimeout time.Duration
}

func New(opts Options) *Coordinator {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	timeout := opts.NodeTimeout
	if timeout == 0 {
		timeout = constants.FederationNodeTimeout
	}
	return &Coordinator{
		store:       opts.Store,
		local:       opts.LocalStatus,
		client:      client,
		nodeTimeout: timeout,
	}
}

// List returns all registry records, tokens elided.
func (c *Coordinator) List(ctx context.Context) ([]View, error) {
	records, err := c.store.ListNodes(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]View, 0, len(records))
	for _, n := range records {
		views = append(views, viewOf(n))
	}
	return views, nil
}

// Add registers a remote node and returns its minted record.
func (c *Coordinator) Add(ctx context.Context, name, baseURL, token string) (View, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return View{}, fmt.Errorf("nodes: name is required")
	}
	normalized, err := normalizeBaseURL(baseURL)
	if err != nil {
		return View{}, err
	}

	node := configstore.Node{
		ID:      newNodeID(),
		Name:    name,
		BaseURL: normalized,
		Token:   strings.TrimSpace(token),
		Enabled: true,
	}
	if err := c.store.AddNode(ctx, node); err != nil {
		return View{}, err
	}
	log.Printf("[Nodes] added node %s (%s)", node.ID, node.Name)

	stored, err := c.store.GetNode(ctx, node.ID)
	if err != nil {
		return View{}, err
	}
	return viewOf(stored), nil
}

// UpdateRequest carries partial node changes. Nil fields stay untouched;
// an empty Token pointer clears the stored token.
type UpdateRequest struct {
	Name    *string
	BaseURL *string
	Token   *string
	Enabled *bool
}

// Update applies a partial update to a node.
func (c *Coordinator) Update(ctx context.Context, id string, req UpdateRequest) (View, error) {
	upd := configstore.NodeUpdate{Name: req.Name, Token: req.Token, Enabled: req.Enabled}
	if req.BaseURL != nil {
		normalized, err := normalizeBaseURL(*req.BaseURL)
		if err != nil {
			return View{}, err
		}
		upd.BaseURL = &normalized
	}
	if err := c.store.UpdateNode(ctx, id, upd); err != nil {
		return View{}, err
	}
	stored, err := c.store.GetNode(ctx, id)
	if err != nil {
		return View{}, err
	}
	return viewOf(stored), nil
}

// Delete removes a remote node. The local record is protected by the store.
func (c *Coordinator) Delete(ctx context.Context, id string) error {
	if err := c.store.DeleteNode(ctx, id); err != nil {
		return err
	}
	log.Printf("[Nodes] deleted node %s", id)
	return nil
}

// NodeOverview is one node's slice of the federation overview.
type NodeOverview struct {
	View
	Status json.RawMessage `json:"status,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Overview queries every node in parallel with a per-node deadline. A
// slow or failing node degrades only its own entry.
func (c *Coordinator) Overview(ctx context.Context) ([]NodeOverview, error) {
	records, err := c.store.ListNodes(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]NodeOverview, len(records))
	var wg sync.WaitGroup
	for i, node := range records {
		wg.Add(1)
		go func(i int, node configstore.Node) {
			defer wg.Done()
			results[i] = c.overviewOne(ctx, node)
		}(i, node)
	}
	wg.Wait()
	return results, nil
}

func (c *Coordinator) overviewOne(ctx context.Context, node configstore.Node) NodeOverview {
	out := NodeOverview{View: viewOf(node)}

	if node.IsLocal {
		if c.local == nil {
			out.Error = "local status unavailable"
			return out
		}
		status, err := c.local(ctx)
		if err != nil {
			out.Error = err.Error()
			return out
		}
		payload, err := json.Marshal(status)
		if err != nil {
			out.Error = fmt.Sprintf("encode local status: %v", err)
			return out
		}
		out.Status = payload
		return out
	}

	if !node.Enabled {
		out.Error = "Node is disabled"
		return out
	}

	nodeCtx, cancel := context.WithTimeout(ctx, c.nodeTimeout)
	defer cancel()

	payload, err := c.fetchRemoteStatus(nodeCtx, node)
	if err != nil {
		out.Error = (&UnreachableError{Node: node.ID, Err: err}).Error()
		return out
	}
	out.Status = payload
	return out
}

func (c *Coordinator) fetchRemoteStatus(ctx context.Context, node configstore.Node) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, node.BaseURL+"/api/status", nil)
	if err != nil {
		return nil, err
	}
	if node.Token != "" {
		req.Header.Set("Authorization", "Bearer "+node.Token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRelayBody))
	if err != nil {
		return nil, err
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("invalid status payload")
	}
	return data, nil
}

// DispatchResult carries a relayed response verbatim.
type DispatchResult struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Dispatch relays one API call to a remote node, at most once: no retries,
// whatever happened on the remote stands. Operations against the local
// node go through the local API, not through dispatch.
func (c *Coordinator) Dispatch(ctx context.Context, nodeID, method, path string, body []byte) (DispatchResult, error) {
	node, err := c.store.GetNode(ctx, nodeID)
	if err != nil {
		return DispatchResult{}, err
	}
	if node.IsLocal {
		return DispatchResult{}, fmt.Errorf("nodes: cannot dispatch to the local node")
	}
	if !node.Enabled {
		return DispatchResult{}, fmt.Errorf("nodes: node %s is disabled", nodeID)
	}
	if !strings.HasPrefix(path, "/api/") {
		return DispatchResult{}, fmt.Errorf("nodes: dispatch path must start with /api/")
	}

	var reader io.Reader
	if len(body) > 0 {
		reader = strings.NewReader(string(body))
	}
	req, err := http.NewRequestWithContext(ctx, method, node.BaseURL+path, reader)
	if err != nil {
		return DispatchResult{}, err
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if node.Token != "" {
		req.Header.Set("Authorization", "Bearer "+node.Token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return DispatchResult{}, &UnreachableError{Node: nodeID, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRelayBody))
	if err != nil {
		return DispatchResult{}, &UnreachableError{Node: nodeID, Err: err}
	}
	return DispatchResult{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        data,
	}, nil
}
