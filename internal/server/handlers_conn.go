package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

type switchBackendRequest struct {
	Backend string `json:"backend"`
}

func (s *APIServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodGet:
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	writeJSON(w, s.machine.Status(r.Context()))
}

func (s *APIServer) handleConnect(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if err := s.machine.Connect(r.Context()); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, s.machine.Status(r.Context()))
}

func (s *APIServer) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if err := s.machine.Disconnect(r.Context()); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, s.machine.Status(r.Context()))
}

func (s *APIServer) handleRotate(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	result, err := s.machine.Rotate(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, result)
}

func (s *APIServer) handleReset(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if err := s.machine.ResetError(r.Context()); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, s.machine.Status(r.Context()))
}

func (s *APIServer) handleBackendSwitch(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var payload switchBackendRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON payload: %v", err))
		return
	}

	backend := strings.TrimSpace(payload.Backend)
	if backend == "" {
		writeError(w, http.StatusBadRequest, "backend is required")
		return
	}

	if err := s.machine.SwitchBackend(r.Context(), backend); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, s.machine.Status(r.Context()))
}

// parseQueryIntParam extracts a non-negative integer query parameter.
// Returns (value, provided, error).
func parseQueryIntParam(query url.Values, name string) (int, bool, error) {
	raw := strings.TrimSpace(query.Get(name))
	if raw == "" {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, true, err
	}
	if value < 0 {
		return 0, true, fmt.Errorf("value must be non-negative")
	}
	return value, true, nil
}

const logsMaxPageLimit = 500

func (s *APIServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodGet:
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	query := r.URL.Query()

	sinceID, _, err := parseQueryIntParam(query, "since_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid since_id: %v", err))
		return
	}

	limit, provided, err := parseQueryIntParam(query, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit: %v", err))
		return
	}
	if !provided || limit == 0 || limit > logsMaxPageLimit {
		limit = logsMaxPageLimit
	}

	events, dropped := s.hub.Fetch(uint64(sinceID), limit)

	writeJSON(w, map[string]any{
		"events":    events,
		"dropped":   dropped,
		"latest_id": s.hub.LatestID(),
	})
}
