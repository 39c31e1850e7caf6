// Package nodes federates several daemon instances behind one panel. The
// registry lives in the config store; this package adds URL normalization,
// id minting, the parallel status overview and request dispatch to remote
// nodes.
package nodes

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	configstore "github.com/lumina-panel/lumina/internal/config/store"
)

// UnreachableError marks a remote node that did not answer in time. Other
// nodes in the same overview are unaffected.
type UnreachableError struct {
	Node string
	Err  error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("nodes: %s unreachable: %v", e.Node, e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// View is the externally visible node record. Tokens are write-only; only
// their presence is reported.
type View struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	BaseURL         string `json:"base_url,omitempty"`
	Enabled         bool   `json:"enabled"`
	IsLocal         bool   `json:"is_local"`
	TokenConfigured bool   `json:"token_configured"`
	CreatedAt       string `json:"created_at,omitempty"`
	UpdatedAt       string `json:"updated_at,omitempty"`
}

func viewOf(n configstore.Node) View {
	return View{
		ID:              n.ID,
		Name:            n.Name,
		BaseURL:         n.BaseURL,
		Enabled:         n.Enabled,
		IsLocal:         n.IsLocal,
		TokenConfigured: n.Token != "",
		CreatedAt:       n.CreatedAt,
		UpdatedAt:       n.UpdatedAt,
	}
}

// newNodeID mints a short random node id, 12 hex chars derived from a
// UUID. Collisions across a handful of nodes are not a practical concern.
func newNodeID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// normalizeBaseURL validates and canonicalizes a node base URL down to
// scheme and host, dropping any path, query or trailing slash.
func normalizeBaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("nodes: base URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("nodes: invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("nodes: base URL must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("nodes: base URL is missing a host")
	}
	return u.Scheme + "://" + u.Host, nil
}
