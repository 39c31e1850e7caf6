package server_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lumina-panel/lumina/internal/auth"
	"github.com/lumina-panel/lumina/internal/conn"
	configstore "github.com/lumina-panel/lumina/internal/config/store"
	"github.com/lumina-panel/lumina/internal/engine"
	"github.com/lumina-panel/lumina/internal/eventhub"
	"github.com/lumina-panel/lumina/internal/kernel"
	"github.com/lumina-panel/lumina/internal/nodes"
	"github.com/lumina-panel/lumina/internal/server"
	"github.com/lumina-panel/lumina/internal/testutil"
)

func platformKey() string {
	return runtime.GOOS + "/" + runtime.GOARCH
}

type fakeAdapter struct {
	id        string
	mu        sync.Mutex
	running   bool
	rotate    engine.RotateOutcome
	startGate chan struct{}
}

func (f *fakeAdapter) ID() string      { return f.id }
func (f *fakeAdapter) Available() bool { return true }

func (f *fakeAdapter) Start(ctx context.Context) error {
	if f.startGate != nil {
		select {
		case <-f.startGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	f.running = true
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) Stop(ctx context.Context) error {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) Query(ctx context.Context) (engine.RawStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return engine.RawStatus{}, &engine.NotReadyError{Reason: "process not running"}
	}
	return engine.RawStatus{Running: true, Ready: true, Protocol: "masque"}, nil
}

func (f *fakeAdapter) Rotate(ctx context.Context) (engine.RotateOutcome, error) {
	return f.rotate, nil
}

func (f *fakeAdapter) ProxyAddress() string { return "socks5://127.0.0.1:40000" }

type fixture struct {
	store   *configstore.Store
	hub     *eventhub.Hub
	machine *conn.Machine
	auth    *auth.Service
	api     *server.APIServer
	ts      *httptest.Server
	engineA *fakeAdapter
	engineB *fakeAdapter
}

// withKernel wires a version manager backed by the given release feed.
func withKernel(releasesURL string) func(*fixtureConfig) {
	return func(cfg *fixtureConfig) { cfg.releasesURL = releasesURL }
}

type fixtureConfig struct {
	releasesURL string
}

func newFixture(t *testing.T, opts ...func(*fixtureConfig)) *fixture {
	t.Helper()

	var cfg fixtureConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	store, cleanup := testutil.OpenStore(t)
	t.Cleanup(cleanup)

	hub := eventhub.New()
	engineA := &fakeAdapter{id: "engine_a", rotate: engine.RotateOutcome{RequiresReconnect: true}}
	engineB := &fakeAdapter{id: "engine_b"}

	var manager *kernel.Manager
	if cfg.releasesURL != "" {
		manager = kernel.New(kernel.Options{
			Store:       store,
			Dir:         t.TempDir(),
			ReleasesURL: cfg.releasesURL,
		})
	}

	connOpts := conn.Options{
		Store:    store,
		Hub:      hub,
		Adapters: []engine.Adapter{engineA, engineB},
		IPLookup: func(ctx context.Context, proxyAddr string) (*conn.IPInfo, error) {
			return &conn.IPInfo{IP: "198.51.100.7", Country: "NL"}, nil
		},
		ReadinessBudget:   300 * time.Millisecond,
		ReadinessInterval: 10 * time.Millisecond,
	}
	if manager != nil {
		connOpts.Kernel = manager
	}
	machine := conn.New(connOpts)

	authSvc := auth.New(store)

	coordinator := nodes.New(nodes.Options{
		Store: store,
		LocalStatus: func(ctx context.Context) (any, error) {
			return machine.Status(ctx), nil
		},
		NodeTimeout: 500 * time.Millisecond,
	})

	api, err := server.New(server.Options{
		Store:   store,
		Machine: machine,
		Auth:    authSvc,
		Kernel:  manager,
		Nodes:   coordinator,
		Hub:     hub,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	ts := httptest.NewServer(api.Handler())
	t.Cleanup(ts.Close)

	return &fixture{
		store:   store,
		hub:     hub,
		machine: machine,
		auth:    authSvc,
		api:     api,
		ts:      ts,
		engineA: engineA,
		engineB: engineB,
	}
}

func (f *fixture) request(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, f.ts.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}

	var decoded map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("decode response %q: %v", raw, err)
		}
	}
	return resp, decoded
}

// login runs first-run setup and returns a session token.
func (f *fixture) login(t *testing.T) string {
	t.Helper()
	resp, body := f.request(t, http.MethodPost, "/api/auth/setup", "", map[string]string{"password": "correct horse"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("setup returned %d: %v", resp.StatusCode, body)
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatalf("setup returned no token: %v", body)
	}
	return token
}

func TestHealthzIsPublic(t *testing.T) {
	f := newFixture(t)

	resp, body := f.request(t, http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz returned %d", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected healthz body: %v", body)
	}
}

func TestAuthSetupFlow(t *testing.T) {
	f := newFixture(t)

	resp, body := f.request(t, http.MethodGet, "/api/auth/status", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("auth status returned %d", resp.StatusCode)
	}
	if body["initialized"] != false {
		t.Fatalf("expected initialized=false before setup, got %v", body)
	}

	token := f.login(t)

	_, body = f.request(t, http.MethodGet, "/api/auth/status", "", nil)
	if body["initialized"] != true {
		t.Fatalf("expected initialized=true after setup, got %v", body)
	}

	resp, _ = f.request(t, http.MethodGet, "/api/auth/check", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("auth check returned %d", resp.StatusCode)
	}

	// Second setup attempt conflicts.
	resp, _ = f.request(t, http.MethodPost, "/api/auth/setup", "", map[string]string{"password": "another pass"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for repeated setup, got %d", resp.StatusCode)
	}
}

func TestProtectedEndpointsRequireToken(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	for _, path := range []string{"/api/status", "/api/logs", "/api/nodes", "/api/settings"} {
		resp, _ := f.request(t, http.MethodGet, path, "", nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s without token returned %d, want 401", path, resp.StatusCode)
		}
	}

	resp, _ := f.request(t, http.MethodGet, "/api/status", "bogus-token", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bogus token returned %d, want 401", resp.StatusCode)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	resp, _ := f.request(t, http.MethodPost, "/api/auth/login", "", map[string]string{"password": "wrong"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong password returned %d, want 401", resp.StatusCode)
	}
}

func TestLoginRateLimited(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	status := 0
	for i := 0; i < 10; i++ {
		resp, _ := f.request(t, http.MethodPost, "/api/auth/login", "", map[string]string{"password": "wrong"})
		status = resp.StatusCode
		if status == http.StatusTooManyRequests {
			break
		}
	}
	if status != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after repeated failures, got %d", status)
	}
}

func TestConnectDisconnectEndpoints(t *testing.T) {
	f := newFixture(t)
	token := f.login(t)

	resp, body := f.request(t, http.MethodGet, "/api/status", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status returned %d", resp.StatusCode)
	}
	if body["state"] != "disconnected" {
		t.Fatalf("expected disconnected, got %v", body["state"])
	}

	resp, body = f.request(t, http.MethodPost, "/api/connect", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("connect returned %d: %v", resp.StatusCode, body)
	}
	if body["state"] != "connected" {
		t.Fatalf("expected connected, got %v", body["state"])
	}
	if body["backend"] != "engine_a" {
		t.Fatalf("expected engine_a backend, got %v", body["backend"])
	}

	resp, body = f.request(t, http.MethodPost, "/api/disconnect", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("disconnect returned %d", resp.StatusCode)
	}
	if body["state"] != "disconnected" {
		t.Fatalf("expected disconnected, got %v", body["state"])
	}
}

func TestRotateEndpoint(t *testing.T) {
	f := newFixture(t)
	token := f.login(t)

	// Rotate without a connection is rejected.
	resp, _ := f.request(t, http.MethodPost, "/api/rotate", token, nil)
	if resp.StatusCode == http.StatusOK {
		t.Fatalf("rotate while disconnected should fail")
	}

	if _, body := f.request(t, http.MethodPost, "/api/connect", token, nil); body["state"] != "connected" {
		t.Fatalf("connect failed: %v", body)
	}

	resp, body := f.request(t, http.MethodPost, "/api/rotate", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rotate returned %d: %v", resp.StatusCode, body)
	}
	if body["reconnected"] != true {
		t.Fatalf("engine_a rotate should reconnect, got %v", body)
	}
}

func TestBackendSwitchEndpoint(t *testing.T) {
	f := newFixture(t)
	token := f.login(t)

	resp, _ := f.request(t, http.MethodPost, "/api/backend/switch", token, map[string]string{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty backend returned %d, want 400", resp.StatusCode)
	}

	resp, body := f.request(t, http.MethodPost, "/api/backend/switch", token, map[string]string{"backend": "engine_b"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("switch returned %d: %v", resp.StatusCode, body)
	}
	if body["backend"] != "engine_b" {
		t.Fatalf("expected engine_b after switch, got %v", body["backend"])
	}
}

func TestConcurrentTransitionConflict(t *testing.T) {
	f := newFixture(t)
	token := f.login(t)

	f.engineA.startGate = make(chan struct{})
	defer close(f.engineA.startGate)

	started := make(chan struct{})
	go func() {
		close(started)
		req, _ := http.NewRequest(http.MethodPost, f.ts.URL+"/api/connect", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		if resp, err := f.ts.Client().Do(req); err == nil {
			resp.Body.Close()
		}
	}()
	<-started

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, _ := f.request(t, http.MethodPost, "/api/disconnect", token, nil)
		if resp.StatusCode == http.StatusConflict {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("never observed 409 while a transition was in flight (last %d)", resp.StatusCode)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestLogsEndpoint(t *testing.T) {
	f := newFixture(t)
	token := f.login(t)

	f.hub.Log(eventhub.LevelInfo, "test", "first line")
	f.hub.Log(eventhub.LevelInfo, "test", "second line")

	resp, body := f.request(t, http.MethodGet, "/api/logs?since_id=0", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logs returned %d", resp.StatusCode)
	}

	events, ok := body["events"].([]any)
	if !ok || len(events) < 2 {
		t.Fatalf("expected at least two events, got %v", body["events"])
	}
	if body["dropped"] != false {
		t.Fatalf("expected dropped=false, got %v", body["dropped"])
	}
	if latest, _ := body["latest_id"].(float64); latest < 2 {
		t.Fatalf("expected latest_id >= 2, got %v", body["latest_id"])
	}

	resp, body = f.request(t, http.MethodGet, "/api/logs?since_id=0&limit=1", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logs with limit returned %d", resp.StatusCode)
	}
	if events, _ := body["events"].([]any); len(events) != 1 {
		t.Fatalf("expected one event with limit=1, got %d", len(events))
	}
}

func TestNodesEndpoints(t *testing.T) {
	f := newFixture(t)
	token := f.login(t)

	resp, body := f.request(t, http.MethodPost, "/api/nodes", token, map[string]string{
		"name":     "berlin",
		"base_url": "https://berlin.example.com",
		"token":    "remote-secret",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add node returned %d: %v", resp.StatusCode, body)
	}
	nodeID, _ := body["id"].(string)
	if nodeID == "" {
		t.Fatalf("add node returned no id: %v", body)
	}
	if _, present := body["token"]; present {
		t.Fatalf("node response must not expose the token: %v", body)
	}
	if body["token_configured"] != true {
		t.Fatalf("expected token_configured=true, got %v", body)
	}

	_, body = f.request(t, http.MethodGet, "/api/nodes", token, nil)
	list, _ := body["nodes"].([]any)
	if len(list) != 2 {
		t.Fatalf("expected local + added node, got %v", body)
	}

	resp, body = f.request(t, http.MethodPut, "/api/nodes/"+nodeID, token, map[string]any{"name": "berlin-2"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update node returned %d: %v", resp.StatusCode, body)
	}
	if body["name"] != "berlin-2" {
		t.Fatalf("rename not applied: %v", body)
	}

	resp, _ = f.request(t, http.MethodDelete, "/api/nodes/local", token, nil)
	if resp.StatusCode < 400 {
		t.Fatalf("deleting the local node must fail, got %d", resp.StatusCode)
	}

	resp, _ = f.request(t, http.MethodDelete, "/api/nodes/"+nodeID, token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete node returned %d", resp.StatusCode)
	}

	resp, _ = f.request(t, http.MethodGet, "/api/nodes/"+nodeID, token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("deleted node lookup returned %d, want 404", resp.StatusCode)
	}
}

func TestNodesOverviewEndpoint(t *testing.T) {
	f := newFixture(t)
	token := f.login(t)

	resp, body := f.request(t, http.MethodGet, "/api/nodes/overview", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("overview returned %d", resp.StatusCode)
	}
	list, _ := body["nodes"].([]any)
	if len(list) != 1 {
		t.Fatalf("expected only the local node, got %v", body)
	}
	local, _ := list[0].(map[string]any)
	if local["id"] != "local" {
		t.Fatalf("expected local node first, got %v", local)
	}
	status, _ := local["status"].(map[string]any)
	if status["state"] != "disconnected" {
		t.Fatalf("expected local status snapshot, got %v", local)
	}
}

func TestNodeActionDispatchesLocally(t *testing.T) {
	f := newFixture(t)
	token := f.login(t)

	resp, body := f.request(t, http.MethodPost, "/api/nodes/local/connect", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("local connect returned %d: %v", resp.StatusCode, body)
	}
	if body["state"] != "connected" {
		t.Fatalf("expected connected after local node action, got %v", body)
	}
}

func TestNodeActionRelaysToRemote(t *testing.T) {
	var gotPath, gotAuth string
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"state":"connected"}`)
	}))
	defer remote.Close()

	f := newFixture(t)
	token := f.login(t)

	_, body := f.request(t, http.MethodPost, "/api/nodes", token, map[string]string{
		"name":     "remote",
		"base_url": remote.URL,
		"token":    "remote-secret",
	})
	nodeID, _ := body["id"].(string)

	resp, body := f.request(t, http.MethodPost, "/api/nodes/"+nodeID+"/connect", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("remote connect returned %d: %v", resp.StatusCode, body)
	}
	if body["state"] != "connected" {
		t.Fatalf("remote response not relayed: %v", body)
	}
	if gotPath != "/api/connect" {
		t.Fatalf("remote received path %q", gotPath)
	}
	if gotAuth != "Bearer remote-secret" {
		t.Fatalf("remote received auth %q", gotAuth)
	}
}

func TestNodeActionUnreachableRemote(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := dead.URL
	dead.Close()

	f := newFixture(t)
	token := f.login(t)

	_, body := f.request(t, http.MethodPost, "/api/nodes", token, map[string]string{
		"name":     "dead",
		"base_url": deadURL,
	})
	nodeID, _ := body["id"].(string)

	resp, _ := f.request(t, http.MethodPost, "/api/nodes/"+nodeID+"/disconnect", token, nil)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("unreachable remote returned %d, want 502", resp.StatusCode)
	}
}

func TestSettingsEndpoints(t *testing.T) {
	f := newFixture(t)
	token := f.login(t)

	resp, body := f.request(t, http.MethodGet, "/api/settings", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("settings returned %d", resp.StatusCode)
	}
	if body["panel_binding"] != "loopback" {
		t.Fatalf("expected loopback default binding, got %v", body)
	}

	resp, body = f.request(t, http.MethodPut, "/api/settings", token, map[string]any{
		"proxy_port":      1080,
		"custom_endpoint": "tunnel.example.com:2408",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("settings update returned %d: %v", resp.StatusCode, body)
	}
	if body["reconnect_required"] != true {
		t.Fatalf("proxy port change should require reconnect: %v", body)
	}
	if body["restart_required"] != false {
		t.Fatalf("no restart expected for proxy settings: %v", body)
	}

	_, body = f.request(t, http.MethodGet, "/api/settings", token, nil)
	if port, _ := body["proxy_port"].(float64); int(port) != 1080 {
		t.Fatalf("proxy port not persisted: %v", body)
	}
	if body["custom_endpoint"] != "tunnel.example.com:2408" {
		t.Fatalf("custom endpoint not persisted: %v", body)
	}

	resp, _ = f.request(t, http.MethodPut, "/api/settings", token, map[string]any{"panel_port": 99999})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("out-of-range port returned %d, want 400", resp.StatusCode)
	}
}

func TestChangePasswordKeepsCaller(t *testing.T) {
	f := newFixture(t)
	token := f.login(t)

	resp, other := f.request(t, http.MethodPost, "/api/auth/login", "", map[string]string{"password": "correct horse"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second login returned %d", resp.StatusCode)
	}
	otherToken, _ := other["token"].(string)

	resp, _ = f.request(t, http.MethodPost, "/api/auth/password", token, map[string]string{
		"current_password": "correct horse",
		"new_password":     "battery staple",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("change password returned %d", resp.StatusCode)
	}

	if resp, _ := f.request(t, http.MethodGet, "/api/status", token, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("caller session should survive password change, got %d", resp.StatusCode)
	}
	if resp, _ := f.request(t, http.MethodGet, "/api/status", otherToken, nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("other session should be invalidated, got %d", resp.StatusCode)
	}
}

func TestLogoutAllKeepCurrent(t *testing.T) {
	f := newFixture(t)
	token := f.login(t)

	resp, other := f.request(t, http.MethodPost, "/api/auth/login", "", map[string]string{"password": "correct horse"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second login returned %d", resp.StatusCode)
	}
	otherToken, _ := other["token"].(string)

	resp, _ = f.request(t, http.MethodPost, "/api/auth/logout-all", token, map[string]bool{"keep_current": true})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout-all returned %d", resp.StatusCode)
	}

	if resp, _ := f.request(t, http.MethodGet, "/api/status", token, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("caller session should survive keep_current logout-all, got %d", resp.StatusCode)
	}
	if resp, _ := f.request(t, http.MethodGet, "/api/status", otherToken, nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("other session should be invalidated, got %d", resp.StatusCode)
	}

	// Without keep_current the caller goes too.
	resp, _ = f.request(t, http.MethodPost, "/api/auth/logout-all", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout-all returned %d", resp.StatusCode)
	}
	if resp, _ := f.request(t, http.MethodGet, "/api/status", token, nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("caller session should be invalidated, got %d", resp.StatusCode)
	}
}

func TestKernelEndpoints(t *testing.T) {
	binary := []byte("#!/bin/sh\nexit 0\n")
	sum := sha256.Sum256(binary)

	var release *httptest.Server
	release = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "index.json") {
			index := map[string]any{
				"versions": []map[string]any{{
					"version": "v1.4.0",
					"assets": map[string]any{
						platformKey(): map[string]string{
							"url":    release.URL + "/bin/v1.4.0",
							"sha256": hex.EncodeToString(sum[:]),
						},
					},
				}},
			}
			json.NewEncoder(w).Encode(index)
			return
		}
		w.Write(binary)
	}))
	defer release.Close()

	f := newFixture(t, withKernel(release.URL+"/index.json"))
	token := f.login(t)

	resp, body := f.request(t, http.MethodGet, "/api/kernel/all-versions", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("all-versions returned %d", resp.StatusCode)
	}
	if versions, _ := body["versions"].([]any); len(versions) != 0 {
		t.Fatalf("expected no installed versions, got %v", body)
	}
	if _, present := body["latest"]; present {
		t.Fatalf("all-versions carried latest before any check ran: %v", body)
	}

	resp, body = f.request(t, http.MethodPost, "/api/kernel/check-update", token, map[string]string{"backend": "engine_a"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("check-update returned %d: %v", resp.StatusCode, body)
	}
	if body["latest"] != "v1.4.0" || body["update_available"] != true {
		t.Fatalf("unexpected update info: %v", body)
	}

	_, body = f.request(t, http.MethodGet, "/api/kernel/all-versions", token, nil)
	if body["latest"] != "v1.4.0" || body["update_available"] != true {
		t.Fatalf("all-versions missing check result: %v", body)
	}

	resp, body = f.request(t, http.MethodPost, "/api/kernel/update", token, map[string]string{"backend": "engine_a"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update returned %d: %v", resp.StatusCode, body)
	}
	if body["version"] != "v1.4.0" {
		t.Fatalf("unexpected update result: %v", body)
	}

	_, body = f.request(t, http.MethodGet, "/api/kernel/all-versions", token, nil)
	versions, _ := body["versions"].([]any)
	if len(versions) != 1 {
		t.Fatalf("expected one installed version, got %v", body)
	}
	entry, _ := versions[0].(map[string]any)
	if entry["version"] != "v1.4.0" || entry["active"] != true {
		t.Fatalf("expected v1.4.0 active, got %v", entry)
	}
	if body["update_available"] != false {
		t.Fatalf("update still reported available after activating latest: %v", body)
	}

	resp, _ = f.request(t, http.MethodPost, "/api/kernel/update", token, map[string]string{"backend": "engine_b"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("engine_b kernel update returned %d, want 400", resp.StatusCode)
	}
}

func TestKernelEndpointsUnavailable(t *testing.T) {
	f := newFixture(t)
	token := f.login(t)

	resp, _ := f.request(t, http.MethodGet, "/api/kernel/all-versions", token, nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a version manager, got %d", resp.StatusCode)
	}
}
