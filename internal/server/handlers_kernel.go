package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/lumina-panel/lumina/internal/constants"
	"github.com/lumina-panel/lumina/internal/kernel"
)

type kernelBackendRequest struct {
	Backend string `json:"backend"`
}

type kernelVersionRequest struct {
	Backend string `json:"backend"`
	Version string `json:"version"`
}

// requireVersionedBackend rejects kernel operations for backends whose
// binaries are not managed by the daemon.
func requireVersionedBackend(w http.ResponseWriter, backend string) bool {
	backend = strings.TrimSpace(backend)
	if backend == "" || backend == kernel.EngineName {
		return true
	}
	if backend == constants.BackendEngineB {
		writeError(w, http.StatusBadRequest, "engine_b is system-managed; its version cannot be changed here")
		return false
	}
	writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown backend %q", backend))
	return false
}

func (s *APIServer) handleKernelVersions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodGet:
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if s.kernel == nil {
		writeError(w, http.StatusServiceUnavailable, "version manager not available")
		return
	}

	installed, err := s.kernel.ListInstalled(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if installed == nil {
		installed = []kernel.InstalledVersion{}
	}

	resp := map[string]any{
		"backend":  kernel.EngineName,
		"versions": installed,
	}
	// latest/update_available appear once a check-update has run.
	if info, ok := s.kernel.LastCheck(r.Context()); ok {
		resp["latest"] = info.Latest
		resp["update_available"] = info.UpdateAvailable
	}

	writeJSON(w, resp)
}

func (s *APIServer) handleKernelCheckUpdate(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if s.kernel == nil {
		writeError(w, http.StatusServiceUnavailable, "version manager not available")
		return
	}

	var payload kernelBackendRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON payload: %v", err))
		return
	}
	if !requireVersionedBackend(w, payload.Backend) {
		return
	}

	info, err := s.kernel.CheckUpdate(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, info)
}

func (s *APIServer) handleKernelUpdate(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if s.kernel == nil {
		writeError(w, http.StatusServiceUnavailable, "version manager not available")
		return
	}

	var payload kernelBackendRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON payload: %v", err))
		return
	}
	if !requireVersionedBackend(w, payload.Backend) {
		return
	}

	info, err := s.kernel.CheckUpdate(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if info.Latest == "" {
		writeError(w, http.StatusNotFound, "no release available for this platform")
		return
	}
	if !info.UpdateAvailable && info.Installed {
		writeJSON(w, map[string]any{
			"status":  "up_to_date",
			"version": info.Latest,
		})
		return
	}

	if !info.Installed {
		if _, err := s.kernel.Install(r.Context(), info.Latest); err != nil {
			writeServiceError(w, err)
			return
		}
	}

	// SwitchVersion restarts a live engine_a around the activation.
	if err := s.machine.SwitchVersion(r.Context(), info.Latest); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, map[string]any{
		"status":  "updated",
		"version": info.Latest,
	})
}

func (s *APIServer) handleKernelVersion(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if s.kernel == nil {
		writeError(w, http.StatusServiceUnavailable, "version manager not available")
		return
	}

	var payload kernelVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON payload: %v", err))
		return
	}
	if !requireVersionedBackend(w, payload.Backend) {
		return
	}
	if strings.TrimSpace(payload.Version) == "" {
		writeError(w, http.StatusBadRequest, "version is required")
		return
	}

	installed := false
	versions, err := s.kernel.ListInstalled(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	for _, v := range versions {
		if v.Version == normalizeVersionLabel(payload.Version) {
			installed = true
			break
		}
	}
	if !installed {
		if _, err := s.kernel.Install(r.Context(), payload.Version); err != nil {
			writeServiceError(w, err)
			return
		}
	}

	if err := s.machine.SwitchVersion(r.Context(), payload.Version); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, map[string]any{
		"status":  "activated",
		"version": normalizeVersionLabel(payload.Version),
	})
}

func normalizeVersionLabel(version string) string {
	v := strings.TrimSpace(version)
	if v != "" && !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}
