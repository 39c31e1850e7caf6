package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

type setupRequest struct {
	Password string `json:"password"`
}

type loginRequest struct {
	Password string `json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type logoutAllRequest struct {
	KeepCurrent bool `json:"keep_current"`
}

func (s *APIServer) handleAuthSetup(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var payload setupRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON payload: %v", err))
		return
	}

	if err := s.auth.Setup(r.Context(), payload.Password); err != nil {
		writeServiceError(w, err)
		return
	}

	// Log the fresh installation straight in.
	token, err := s.auth.Login(r.Context(), payload.Password, clientIP(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, map[string]any{"token": token})
}

func (s *APIServer) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var payload loginRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON payload: %v", err))
		return
	}

	token, err := s.auth.Login(r.Context(), payload.Password, clientIP(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, map[string]any{"token": token})
}

func (s *APIServer) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodGet:
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	configured, err := s.auth.PasswordConfigured(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, map[string]any{"initialized": configured})
}

func (s *APIServer) handleAuthCheck(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodGet:
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	// The auth middleware already validated the token.
	writeJSON(w, map[string]any{"authenticated": true})
}

func (s *APIServer) handleAuthPassword(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var payload changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON payload: %v", err))
		return
	}

	caller := callerToken(r.Context())
	if err := s.auth.ChangePassword(r.Context(), payload.CurrentPassword, payload.NewPassword, caller); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, map[string]any{"status": "password_changed"})
}

func (s *APIServer) handleAuthLogout(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if err := s.auth.Logout(r.Context(), callerToken(r.Context())); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, map[string]any{"status": "logged_out"})
}

func (s *APIServer) handleAuthLogoutAll(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	// The body is optional; an absent one revokes every session.
	var payload logoutAllRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON payload: %v", err))
		return
	}

	if err := s.auth.LogoutAll(r.Context(), callerToken(r.Context()), payload.KeepCurrent); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, map[string]any{"status": "logged_out_all"})
}
