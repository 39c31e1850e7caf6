package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/lumina-panel/lumina/internal/constants"
	"github.com/lumina-panel/lumina/internal/nodes"
)

const maxNodeActionBody = 64 * 1024

type addNodeRequest struct {
	Name    string `json:"name"`
	BaseURL string `json:"base_url"`
	Token   string `json:"token"`
}

type updateNodeRequest struct {
	Name    *string `json:"name,omitempty"`
	BaseURL *string `json:"base_url,omitempty"`
	Token   *string `json:"token,omitempty"`
	Enabled *bool   `json:"enabled,omitempty"`
}

func (s *APIServer) requireNodes(w http.ResponseWriter) bool {
	if s.nodes == nil {
		writeError(w, http.StatusServiceUnavailable, "node federation not available")
		return false
	}
	return true
}

func (s *APIServer) handleNodesRoot(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
	case http.MethodGet:
		s.handleNodesList(w, r)
	case http.MethodPost:
		s.handleNodesAdd(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *APIServer) handleNodesList(w http.ResponseWriter, r *http.Request) {
	if !s.requireNodes(w) {
		return
	}

	views, err := s.nodes.List(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if views == nil {
		views = []nodes.View{}
	}

	writeJSON(w, map[string]any{"nodes": views})
}

func (s *APIServer) handleNodesAdd(w http.ResponseWriter, r *http.Request) {
	if !s.requireNodes(w) {
		return
	}

	var payload addNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON payload: %v", err))
		return
	}

	view, err := s.nodes.Add(r.Context(), payload.Name, payload.BaseURL, payload.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, view)
}

// handleNodeSubroutes dispatches /api/nodes/{id} and /api/nodes/{id}/{action}.
func (s *APIServer) handleNodeSubroutes(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/nodes/"), "/")
	if rest == "" {
		writeError(w, http.StatusBadRequest, "node id required")
		return
	}

	parts := strings.SplitN(rest, "/", 2)
	nodeID := parts[0]

	if len(parts) == 1 {
		if nodeID == "overview" {
			s.handleNodesOverview(w, r)
			return
		}
		s.handleNodeByID(w, r, nodeID)
		return
	}

	s.handleNodeAction(w, r, nodeID, parts[1])
}

func (s *APIServer) handleNodesOverview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.requireNodes(w) {
		return
	}

	overview, err := s.nodes.Overview(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if overview == nil {
		overview = []nodes.NodeOverview{}
	}

	writeJSON(w, map[string]any{"nodes": overview})
}

func (s *APIServer) handleNodeByID(w http.ResponseWriter, r *http.Request, nodeID string) {
	if !s.requireNodes(w) {
		return
	}

	switch r.Method {
	case http.MethodGet:
		views, err := s.nodes.List(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		for _, view := range views {
			if view.ID == nodeID {
				writeJSON(w, view)
				return
			}
		}
		writeError(w, http.StatusNotFound, fmt.Sprintf("node %s not found", nodeID))

	case http.MethodPut:
		var payload updateNodeRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON payload: %v", err))
			return
		}
		view, err := s.nodes.Update(r.Context(), nodeID, nodes.UpdateRequest{
			Name:    payload.Name,
			BaseURL: payload.BaseURL,
			Token:   payload.Token,
			Enabled: payload.Enabled,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, view)

	case http.MethodDelete:
		if err := s.nodes.Delete(r.Context(), nodeID); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, map[string]any{"status": "deleted"})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleNodeAction relays a connection action to a federation node. The
// local node is driven through the state machine directly; remotes get a
// single authenticated POST with the response passed through verbatim.
func (s *APIServer) handleNodeAction(w http.ResponseWriter, r *http.Request, nodeID, action string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.requireNodes(w) {
		return
	}

	var remotePath string
	switch action {
	case "connect":
		remotePath = "/api/connect"
	case "disconnect":
		remotePath = "/api/disconnect"
	case "backend":
		remotePath = "/api/backend/switch"
	default:
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown node action %q", action))
		return
	}

	if nodeID == constants.LocalNodeID {
		switch action {
		case "connect":
			s.handleConnect(w, r)
		case "disconnect":
			s.handleDisconnect(w, r)
		case "backend":
			s.handleBackendSwitch(w, r)
		}
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxNodeActionBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("read request body: %v", err))
		return
	}

	result, err := s.nodes.Dispatch(r.Context(), nodeID, http.MethodPost, remotePath, body)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if result.ContentType != "" {
		w.Header().Set("Content-Type", result.ContentType)
	}
	w.WriteHeader(result.StatusCode)
	if _, err := w.Write(result.Body); err != nil {
		// Nothing more we can do once the relay body fails mid-write.
		return
	}
}
