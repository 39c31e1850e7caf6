// Package server exposes the daemon's HTTP API and the WebSocket status
// channel consumed by the panel and the operator CLI.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lumina-panel/lumina/internal/auth"
	"github.com/lumina-panel/lumina/internal/conn"
	configstore "github.com/lumina-panel/lumina/internal/config/store"
	"github.com/lumina-panel/lumina/internal/constants"
	"github.com/lumina-panel/lumina/internal/eventhub"
	"github.com/lumina-panel/lumina/internal/kernel"
	"github.com/lumina-panel/lumina/internal/nodes"
)

// MetricsExporter renders observability metrics in Prometheus exposition format.
type MetricsExporter interface {
	Export() []byte
}

// DefaultPanelPort is used when no panel port has been configured.
const DefaultPanelPort = 7801

// transportConfig groups network transport settings protected by a single
// read-write mutex.
type transportConfig struct {
	transportMu    sync.RWMutex
	binding        string
	port           int
	tlsEnabled     bool
	tlsCertPath    string
	tlsKeyPath     string
	allowedOrigins []string
}

// originAllowed reports whether the given Origin header is acceptable.
func (tc *transportConfig) originAllowed(origin string) bool {
	if origin == "" {
		return false
	}
	if isBuiltinOrigin(origin) {
		return true
	}

	tc.transportMu.RLock()
	defer tc.transportMu.RUnlock()
	for _, allowed := range tc.allowedOrigins {
		if allowed == origin {
			return true
		}
	}
	return false
}

// Options wires the API server's collaborators.
type Options struct {
	Store     *configstore.Store
	Machine   *conn.Machine
	Auth      *auth.Service
	Kernel    *kernel.Manager
	Nodes     *nodes.Coordinator
	Hub       *eventhub.Hub
	Metrics   MetricsExporter
	Version   string
	Port      int // fallback when no panel port is configured
	StartTime time.Time
}

// APIServer handles the HTTP API and owns the WebSocket status hub.
type APIServer struct {
	store   *configstore.Store
	machine *conn.Machine
	auth    *auth.Service
	kernel  *kernel.Manager
	nodes   *nodes.Coordinator
	hub     *eventhub.Hub
	metrics MetricsExporter
	version string
	started time.Time

	wsServer   *WSServer
	httpServer *http.Server
	wsRunOnce  sync.Once

	transportConfig

	shutdownMu sync.RWMutex
	shutdownFn func(context.Context) error
}

// New creates an API server. The machine, auth service and hub are
// required; kernel, nodes and metrics are optional and their endpoints
// report 503 when absent.
func New(opts Options) (*APIServer, error) {
	if opts.Machine == nil {
		return nil, fmt.Errorf("server: connection machine is required")
	}
	if opts.Auth == nil {
		return nil, fmt.Errorf("server: auth service is required")
	}
	if opts.Hub == nil {
		return nil, fmt.Errorf("server: event hub is required")
	}

	s := &APIServer{
		store:   opts.Store,
		machine: opts.Machine,
		auth:    opts.Auth,
		kernel:  opts.Kernel,
		nodes:   opts.Nodes,
		hub:     opts.Hub,
		metrics: opts.Metrics,
		version: opts.Version,
		started: opts.StartTime,
	}
	s.port = opts.Port
	if s.port <= 0 {
		s.port = DefaultPanelPort
	}
	if s.started.IsZero() {
		s.started = time.Now()
	}

	s.wsServer = NewWSServer(opts.Hub, func(ctx context.Context) any {
		return opts.Machine.Status(ctx)
	}, s.originAllowed)

	return s, nil
}

// SetShutdownFunc registers a handler invoked when /api/daemon/shutdown is called.
func (s *APIServer) SetShutdownFunc(fn func(context.Context) error) {
	s.shutdownMu.Lock()
	s.shutdownFn = fn
	s.shutdownMu.Unlock()
}

// PreparedHTTPServer holds metadata about a prepared HTTP server instance.
type PreparedHTTPServer struct {
	Server   *http.Server
	UseTLS   bool
	CertPath string
	KeyPath  string
	Scheme   string
	Binding  string
}

// Prepare initialises the HTTP server without serving, allowing the caller
// to manage the listener lifecycle.
func (s *APIServer) Prepare(ctx context.Context) (*PreparedHTTPServer, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.transportMu.RLock()
	port := s.port
	s.transportMu.RUnlock()

	binding := "loopback"
	tlsEnabled := false
	certPath := ""
	keyPath := ""
	var allowedOrigins []string

	if s.store != nil {
		values, err := s.store.LoadSettings(ctx,
			constants.SettingPanelPort,
			constants.SettingPanelBinding,
			constants.SettingTLSEnabled,
			constants.SettingTLSCertPath,
			constants.SettingTLSKeyPath,
			constants.SettingAllowedOrigins,
		)
		if err != nil {
			return nil, fmt.Errorf("server: load panel settings: %w", err)
		}
		if raw := strings.TrimSpace(values[constants.SettingPanelPort]); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 1 || parsed > 65535 {
				return nil, fmt.Errorf("server: invalid panel port %q", raw)
			}
			port = parsed
		}
		if raw := strings.TrimSpace(values[constants.SettingPanelBinding]); raw != "" {
			binding = normalizeBinding(raw)
		}
		tlsEnabled = values[constants.SettingTLSEnabled] == "true"
		certPath = strings.TrimSpace(values[constants.SettingTLSCertPath])
		keyPath = strings.TrimSpace(values[constants.SettingTLSKeyPath])
		allowedOrigins = splitOrigins(values[constants.SettingAllowedOrigins])
	}

	host, err := resolveBindingHost(binding)
	if err != nil {
		return nil, err
	}

	if binding != "loopback" && !tlsEnabled {
		return nil, fmt.Errorf("server: binding %q requires TLS to be enabled", binding)
	}
	if tlsEnabled {
		if certPath == "" || keyPath == "" {
			return nil, fmt.Errorf("server: TLS requires both certificate and key paths")
		}
		if _, err := tls.LoadX509KeyPair(certPath, keyPath); err != nil {
			return nil, fmt.Errorf("server: load TLS certificate/key pair: %w", err)
		}
	}

	s.transportMu.Lock()
	s.port = port
	s.binding = binding
	s.tlsEnabled = tlsEnabled
	s.tlsCertPath = certPath
	s.tlsKeyPath = keyPath
	s.allowedOrigins = allowedOrigins
	s.transportMu.Unlock()

	server := &http.Server{
		Addr:    net.JoinHostPort(host, strconv.Itoa(port)),
		Handler: s.Handler(),
	}
	s.httpServer = server

	prepared := &PreparedHTTPServer{
		Server:  server,
		Scheme:  "http",
		Binding: binding,
	}
	if tlsEnabled {
		prepared.UseTLS = true
		prepared.CertPath = certPath
		prepared.KeyPath = keyPath
		prepared.Scheme = "https"
	}

	return prepared, nil
}

// Handler builds the full route table wrapped in the auth and CORS
// middleware. Exposed separately so tests can drive it via httptest.
func (s *APIServer) Handler() http.Handler {
	s.wsRunOnce.Do(func() {
		go s.wsServer.Run()
	})

	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/ws/status", s.wsServer.HandleWebSocket)

	mux.HandleFunc("/api/auth/setup", s.handleAuthSetup)
	mux.HandleFunc("/api/auth/login", s.handleAuthLogin)
	mux.HandleFunc("/api/auth/status", s.handleAuthStatus)
	mux.HandleFunc("/api/auth/check", s.handleAuthCheck)
	mux.HandleFunc("/api/auth/password", s.handleAuthPassword)
	mux.HandleFunc("/api/auth/logout", s.handleAuthLogout)
	mux.HandleFunc("/api/auth/logout-all", s.handleAuthLogoutAll)

	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/connect", s.handleConnect)
	mux.HandleFunc("/api/disconnect", s.handleDisconnect)
	mux.HandleFunc("/api/rotate", s.handleRotate)
	mux.HandleFunc("/api/reset", s.handleReset)
	mux.HandleFunc("/api/backend/switch", s.handleBackendSwitch)

	mux.HandleFunc("/api/kernel/all-versions", s.handleKernelVersions)
	mux.HandleFunc("/api/kernel/check-update", s.handleKernelCheckUpdate)
	mux.HandleFunc("/api/kernel/update", s.handleKernelUpdate)
	mux.HandleFunc("/api/kernel/version", s.handleKernelVersion)

	mux.HandleFunc("/api/logs", s.handleLogs)

	mux.HandleFunc("/api/nodes", s.handleNodesRoot)
	mux.HandleFunc("/api/nodes/", s.handleNodeSubroutes)

	mux.HandleFunc("/api/settings", s.handleSettings)
	mux.HandleFunc("/api/daemon/status", s.handleDaemonStatus)
	mux.HandleFunc("/api/daemon/shutdown", s.handleDaemonShutdown)

	return s.wrapWithSecurity(mux)
}

// Start starts the HTTP server and blocks until it exits.
func (s *APIServer) Start() error {
	prepared, err := s.Prepare(context.Background())
	if err != nil {
		return err
	}
	log.Printf("[Server] listening on %s (%s)", prepared.Server.Addr, prepared.Scheme)
	if prepared.UseTLS {
		return prepared.Server.ListenAndServeTLS(prepared.CertPath, prepared.KeyPath)
	}
	return prepared.Server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server and the WebSocket hub.
func (s *APIServer) Shutdown(ctx context.Context) error {
	s.wsServer.Stop()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// WSClientCount reports the number of connected WebSocket clients.
func (s *APIServer) WSClientCount() int {
	return s.wsServer.ClientCount()
}

func (s *APIServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, map[string]any{"status": "ok"})
}

func (s *APIServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodGet:
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if s.metrics == nil {
		writeError(w, http.StatusServiceUnavailable, "metrics exporter not configured")
		return
	}

	payload := s.metrics.Export()
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.Header().Set("Cache-Control", "no-cache")
	if _, err := w.Write(payload); err != nil {
		log.Printf("[Server] failed to write metrics response: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

type authTokenKey struct{}

// wrapWithCORS adds CORS headers for requests from the panel and configured origins.
func (s *APIServer) wrapWithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *APIServer) wrapWithSecurity(next http.Handler) http.Handler {
	corsHandler := s.wrapWithCORS(next)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicEndpoint(r) {
			corsHandler.ServeHTTP(w, r)
			return
		}

		token := extractAuthToken(r)
		if err := s.auth.Check(r.Context(), token); err != nil {
			writeUnauthorized(w)
			return
		}

		ctx := context.WithValue(r.Context(), authTokenKey{}, token)
		corsHandler.ServeHTTP(w, r.WithContext(ctx))
	})
}

func isPublicEndpoint(r *http.Request) bool {
	if r == nil || r.URL == nil {
		return false
	}
	path := strings.TrimSuffix(r.URL.Path, "/")
	switch path {
	case "/healthz", "/api/auth/status":
		return true
	case "/api/auth/login", "/api/auth/setup":
		return r.Method == http.MethodPost || r.Method == http.MethodOptions
	}
	return false
}

// extractAuthToken pulls the session token from the Authorization header or,
// for WebSocket upgrades where browsers cannot set headers, the token query
// parameter.
func extractAuthToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
			return strings.TrimSpace(authHeader[7:])
		}
	}

	if queryToken := r.URL.Query().Get("token"); queryToken != "" {
		return strings.TrimSpace(queryToken)
	}

	return ""
}

func callerToken(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	token, _ := ctx.Value(authTokenKey{}).(string)
	return token
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="lumina"`)
	writeError(w, http.StatusUnauthorized, "unauthorized")
}

// clientIP extracts the remote host for login rate limiting.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ---------------------------------------------------------------------------
// Error mapping
// ---------------------------------------------------------------------------

// writeServiceError maps domain errors onto HTTP status codes and emits the
// standard JSON error envelope.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, conn.ErrConcurrentTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrNotAuthenticated):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, auth.ErrPasswordConfigured), errors.Is(err, auth.ErrPasswordNotSet):
		writeError(w, http.StatusConflict, err.Error())
	case configstore.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case isUnreachable(err):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func isUnreachable(err error) bool {
	var ue *nodes.UnreachableError
	return errors.As(err, &ue)
}

// ---------------------------------------------------------------------------
// Bindings
// ---------------------------------------------------------------------------

func normalizeBinding(binding string) string {
	b := strings.TrimSpace(strings.ToLower(binding))
	if b == "" {
		return "loopback"
	}
	return b
}

func resolveBindingHost(binding string) (string, error) {
	switch binding {
	case "loopback":
		return "127.0.0.1", nil
	case "lan", "public":
		return "0.0.0.0", nil
	default:
		return "", fmt.Errorf("server: unknown binding %q", binding)
	}
}

func splitOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}
