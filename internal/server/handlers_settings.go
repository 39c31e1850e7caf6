package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lumina-panel/lumina/internal/constants"
)

// settingsResponse is the editable daemon configuration exposed to the panel.
type settingsResponse struct {
	ProxyPort      int    `json:"proxy_port"`
	PanelPort      int    `json:"panel_port"`
	PanelBinding   string `json:"panel_binding"`
	CustomEndpoint string `json:"custom_endpoint,omitempty"`
	TLSEnabled     bool   `json:"tls_enabled"`
	TLSCertPath    string `json:"tls_cert_path,omitempty"`
	TLSKeyPath     string `json:"tls_key_path,omitempty"`
	AllowedOrigins string `json:"allowed_origins,omitempty"`
}

type settingsUpdateRequest struct {
	ProxyPort      *int    `json:"proxy_port,omitempty"`
	PanelPort      *int    `json:"panel_port,omitempty"`
	PanelBinding   *string `json:"panel_binding,omitempty"`
	CustomEndpoint *string `json:"custom_endpoint,omitempty"`
	TLSEnabled     *bool   `json:"tls_enabled,omitempty"`
	TLSCertPath    *string `json:"tls_cert_path,omitempty"`
	TLSKeyPath     *string `json:"tls_key_path,omitempty"`
	AllowedOrigins *string `json:"allowed_origins,omitempty"`
}

func (s *APIServer) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
	case http.MethodGet:
		s.handleSettingsGet(w, r)
	case http.MethodPut:
		s.handleSettingsPut(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *APIServer) loadSettingsResponse(ctx context.Context) (settingsResponse, error) {
	resp := settingsResponse{
		PanelPort:    DefaultPanelPort,
		PanelBinding: "loopback",
	}
	if s.store == nil {
		return resp, nil
	}

	values, err := s.store.LoadSettings(ctx,
		constants.SettingProxyPort,
		constants.SettingPanelPort,
		constants.SettingPanelBinding,
		constants.SettingCustomEndpoint,
		constants.SettingTLSEnabled,
		constants.SettingTLSCertPath,
		constants.SettingTLSKeyPath,
		constants.SettingAllowedOrigins,
	)
	if err != nil {
		return resp, fmt.Errorf("server: load settings: %w", err)
	}

	if raw := values[constants.SettingProxyPort]; raw != "" {
		resp.ProxyPort, _ = strconv.Atoi(raw)
	}
	if raw := values[constants.SettingPanelPort]; raw != "" {
		resp.PanelPort, _ = strconv.Atoi(raw)
	}
	if raw := values[constants.SettingPanelBinding]; raw != "" {
		resp.PanelBinding = normalizeBinding(raw)
	}
	resp.CustomEndpoint = values[constants.SettingCustomEndpoint]
	resp.TLSEnabled = values[constants.SettingTLSEnabled] == "true"
	resp.TLSCertPath = values[constants.SettingTLSCertPath]
	resp.TLSKeyPath = values[constants.SettingTLSKeyPath]
	resp.AllowedOrigins = values[constants.SettingAllowedOrigins]

	return resp, nil
}

func (s *APIServer) handleSettingsGet(w http.ResponseWriter, r *http.Request) {
	resp, err := s.loadSettingsResponse(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (s *APIServer) handleSettingsPut(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "configuration store not available")
		return
	}

	var payload settingsUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON payload: %v", err))
		return
	}

	updates := make(map[string]string)
	restartRequired := false
	reconnectRequired := false

	if payload.ProxyPort != nil {
		if *payload.ProxyPort < 1 || *payload.ProxyPort > 65535 {
			writeError(w, http.StatusBadRequest, "proxy_port must be between 1 and 65535")
			return
		}
		updates[constants.SettingProxyPort] = strconv.Itoa(*payload.ProxyPort)
		reconnectRequired = true
	}
	if payload.PanelPort != nil {
		if *payload.PanelPort < 1 || *payload.PanelPort > 65535 {
			writeError(w, http.StatusBadRequest, "panel_port must be between 1 and 65535")
			return
		}
		updates[constants.SettingPanelPort] = strconv.Itoa(*payload.PanelPort)
		restartRequired = true
	}
	if payload.PanelBinding != nil {
		binding := normalizeBinding(*payload.PanelBinding)
		if _, err := resolveBindingHost(binding); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		updates[constants.SettingPanelBinding] = binding
		restartRequired = true
	}
	if payload.CustomEndpoint != nil {
		endpoint := strings.TrimSpace(*payload.CustomEndpoint)
		if endpoint != "" && !validEndpoint(endpoint) {
			writeError(w, http.StatusBadRequest, "custom_endpoint must be host:port")
			return
		}
		updates[constants.SettingCustomEndpoint] = endpoint
		reconnectRequired = true
	}
	if payload.TLSEnabled != nil {
		updates[constants.SettingTLSEnabled] = strconv.FormatBool(*payload.TLSEnabled)
		restartRequired = true
	}
	if payload.TLSCertPath != nil {
		updates[constants.SettingTLSCertPath] = strings.TrimSpace(*payload.TLSCertPath)
		restartRequired = true
	}
	if payload.TLSKeyPath != nil {
		updates[constants.SettingTLSKeyPath] = strings.TrimSpace(*payload.TLSKeyPath)
		restartRequired = true
	}
	if payload.AllowedOrigins != nil {
		updates[constants.SettingAllowedOrigins] = strings.TrimSpace(*payload.AllowedOrigins)
		restartRequired = true
	}

	if len(updates) == 0 {
		writeError(w, http.StatusBadRequest, "no settings provided")
		return
	}

	if err := s.store.SaveSettings(r.Context(), updates); err != nil {
		writeServiceError(w, err)
		return
	}

	resp, err := s.loadSettingsResponse(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, map[string]any{
		"settings":           resp,
		"restart_required":   restartRequired,
		"reconnect_required": reconnectRequired,
	})
}

// validEndpoint accepts host:port tunnel endpoint overrides.
func validEndpoint(endpoint string) bool {
	host, port, err := splitHostPort(endpoint)
	if err != nil {
		return false
	}
	if host == "" {
		return false
	}
	n, err := strconv.Atoi(port)
	return err == nil && n >= 1 && n <= 65535
}

func splitHostPort(endpoint string) (string, string, error) {
	idx := strings.LastIndex(endpoint, ":")
	if idx < 0 {
		return "", "", fmt.Errorf("missing port")
	}
	return endpoint[:idx], endpoint[idx+1:], nil
}

// ---------------------------------------------------------------------------
// Daemon status and shutdown
// ---------------------------------------------------------------------------

func (s *APIServer) handleDaemonStatus(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodGet:
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	s.transportMu.RLock()
	port := s.port
	binding := s.binding
	tlsEnabled := s.tlsEnabled
	s.transportMu.RUnlock()
	if binding == "" {
		binding = "loopback"
	}

	response := map[string]any{
		"version":    s.version,
		"port":       port,
		"binding":    binding,
		"ws_clients": s.wsServer.ClientCount(),
	}
	if !s.started.IsZero() {
		response["uptime"] = time.Since(s.started).Seconds()
	}
	if tlsEnabled {
		response["tls_enabled"] = true
	}

	writeJSON(w, response)
}

func (s *APIServer) handleDaemonShutdown(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	s.shutdownMu.RLock()
	shutdown := s.shutdownFn
	s.shutdownMu.RUnlock()

	if shutdown == nil {
		writeError(w, http.StatusNotImplemented, "daemon shutdown not available")
		return
	}

	// Trigger shutdown asynchronously so we can return 202 immediately.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			log.Printf("[Server] shutdown handler returned error: %v", err)
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"status": "shutting_down",
	})
}
