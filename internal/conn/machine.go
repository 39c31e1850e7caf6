// Package conn owns the connection lifecycle: one state machine that
// serializes connect, disconnect, rotation and backend switches over the
// engine adapters, publishes every state change to the event hub, and
// answers status reads without ever blocking on a transition.
package conn

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	configstore "github.com/lumina-panel/lumina/internal/config/store"
	"github.com/lumina-panel/lumina/internal/constants"
	"github.com/lumina-panel/lumina/internal/engine"
	"github.com/lumina-panel/lumina/internal/eventhub"
)

// State is the connection lifecycle state.
type State string

const (
	StateDisconnected  State = "disconnected"
	StateConnecting    State = "connecting"
	StateConnected     State = "connected"
	StateDisconnecting State = "disconnecting"
	StateError         State = "error"
)

// ErrConcurrentTransition is returned immediately when a transition is
// requested while another one is still running. Callers retry; they are
// never queued.
var ErrConcurrentTransition = errors.New("conn: another transition is in progress")

// BackendInfo describes one configured backend for status reads.
type BackendInfo struct {
	ID        string `json:"id"`
	Available bool   `json:"available"`
	Active    bool   `json:"active"`
}

// Status is the externally visible connection snapshot.
type Status struct {
	State             State         `json:"state"`
	Backend           string        `json:"backend"`
	ProxyAddress      string        `json:"proxy_address,omitempty"`
	Since             time.Time     `json:"since"`
	LastError         string        `json:"last_error,omitempty"`
	ExitIP            *IPInfo       `json:"exit_ip,omitempty"`
	AvailableBackends []BackendInfo `json:"available_backends,omitempty"`
}

// RotateResult reports how a rotation completed.
type RotateResult struct {
	Reconnected bool   `json:"reconnected"`
	Detail      string `json:"detail,omitempty"`
}

// VersionActivator marks a kernel version active. Satisfied by
// *kernel.Manager.
type VersionActivator interface {
	Activate(ctx context.Context, version string) error
}

// Options configures a Machine.
type Options struct {
	Store    *configstore.Store
	Hub      *eventhub.Hub
	Adapters []engine.Adapter

	// Kernel handles switch-version requests. Optional; without it
	// SwitchVersion fails.
	Kernel VersionActivator

	// IPLookup resolves the exit IP through the local proxy. Defaults to
	// the SOCKS probe in this package.
	IPLookup func(ctx context.Context, proxyAddr string) (*IPInfo, error)

	// ReadinessBudget and ReadinessInterval override the post-start poll
	// timing, mainly for tests.
	ReadinessBudget   time.Duration
	ReadinessInterval time.Duration
}

// Machine is the connection state machine. All transitions run under a
// single try-lock; a second concurrent transition is rejected outright.
// Status reads never take the transition lock.
type Machine struct {
	store    *configstore.Store
	hub      *eventhub.Hub
	adapters map[string]engine.Adapter
	kernel   VersionActivator
	ipLookup func(ctx context.Context, proxyAddr string) (*IPInfo, error)

	readinessBudget   time.Duration
	readinessInterval time.Duration

	transition sync.Mutex // held for the whole duration of a transition

	mu     sync.Mutex // guards the fields below
	status Status
	active engine.Adapter

	queryCache   engine.RawStatus
	queryCacheAt time.Time

	ipCache   *IPInfo
	ipCacheAt time.Time
}

func New(opts Options) *Machine {
	adapters := make(map[string]engine.Adapter, len(opts.Adapters))
	for _, a := range opts.Adapters {
		adapters[a.ID()] = a
	}
	m := &Machine{
		store:             opts.Store,
		hub:               opts.Hub,
		adapters:          adapters,
		kernel:            opts.Kernel,
		ipLookup:          opts.IPLookup,
		readinessBudget:   opts.ReadinessBudget,
		readinessInterval: opts.ReadinessInterval,
	}
	if m.ipLookup == nil {
		m.ipLookup = lookupExitIP
	}
	if m.readinessBudget == 0 {
		m.readinessBudget = constants.ConnectReadinessBudget
	}
	if m.readinessInterval == 0 {
		m.readinessInterval = constants.ConnectReadinessInterval
	}
	m.status = Status{State: StateDisconnected, Since: time.Now().UTC()}
	return m
}

// tryBegin acquires the transition lock or rejects the caller.
func (m *Machine) tryBegin() error {
	if !m.transition.TryLock() {
		return ErrConcurrentTransition
	}
	return nil
}

// Connect starts the active backend and waits for readiness. On a
// readiness timeout the engine process is intentionally left running: the
// tunnel may still come up, and Status keeps polling it.
func (m *Machine) Connect(ctx context.Context) error {
	if err := m.tryBegin(); err != nil {
		return err
	}
	defer m.transition.Unlock()
	return m.connectLocked(ctx)
}

func (m *Machine) connectLocked(ctx context.Context) error {
	adapter, err := m.activeAdapter(ctx)
	if err != nil {
		return err
	}
	if cur := m.snapshot(); cur.State == StateConnected && m.currentAdapter() == adapter {
		return nil
	}

	m.setState(StateConnecting, adapter, "")
	if err := adapter.Start(ctx); err != nil {
		m.setState(StateError, adapter, err.Error())
		return err
	}
	if err := m.waitReady(ctx, adapter); err != nil {
		m.setState(StateError, adapter, err.Error())
		return err
	}
	m.setState(StateConnected, adapter, "")
	m.invalidateIPCache()
	go m.refreshExitIP(adapter)
	return nil
}

// Disconnect stops the active engine.
func (m *Machine) Disconnect(ctx context.Context) error {
	if err := m.tryBegin(); err != nil {
		return err
	}
	defer m.transition.Unlock()
	return m.disconnectLocked(ctx)
}

func (m *Machine) disconnectLocked(ctx context.Context) error {
	adapter := m.currentAdapter()
	if adapter == nil {
		m.setState(StateDisconnected, nil, "")
		return nil
	}
	m.setState(StateDisconnecting, adapter, "")
	if err := adapter.Stop(ctx); err != nil {
		m.setState(StateError, adapter, err.Error())
		return err
	}
	m.setState(StateDisconnected, nil, "")
	return nil
}

// Rotate requests a new egress identity. Engines that rotate by
// de-registration get a full stop/start cycle; in-place engines keep the
// tunnel up.
func (m *Machine) Rotate(ctx context.Context) (RotateResult, error) {
	if err := m.tryBegin(); err != nil {
		return RotateResult{}, err
	}
	defer m.transition.Unlock()

	adapter := m.currentAdapter()
	if adapter == nil || m.snapshot().State != StateConnected {
		return RotateResult{}, errors.New("conn: not connected")
	}

	outcome, err := adapter.Rotate(ctx)
	if err != nil {
		return RotateResult{}, err
	}
	if !outcome.RequiresReconnect {
		m.invalidateIPCache()
		go m.refreshExitIP(adapter)
		m.logf("identity rotated in place on %s", adapter.ID())
		return RotateResult{Reconnected: false, Detail: outcome.Detail}, nil
	}

	m.logf("identity rotation on %s requires reconnect", adapter.ID())
	if err := m.disconnectLocked(ctx); err != nil {
		return RotateResult{}, fmt.Errorf("conn: rotate: stop engine: %w", err)
	}
	if err := m.connectLocked(ctx); err != nil {
		return RotateResult{}, fmt.Errorf("conn: rotate: restart engine: %w", err)
	}
	return RotateResult{Reconnected: true, Detail: outcome.Detail}, nil
}

// SwitchBackend makes id the active backend. A live connection is stopped
// on the old backend before the new one starts; the bridge port is never
// contested.
func (m *Machine) SwitchBackend(ctx context.Context, id string) error {
	if err := m.tryBegin(); err != nil {
		return err
	}
	defer m.transition.Unlock()

	if _, ok := m.adapters[id]; !ok {
		return fmt.Errorf("conn: unknown backend %q", id)
	}

	wasConnected := m.snapshot().State == StateConnected
	current := m.currentAdapter()
	if current != nil && current.ID() == id {
		return nil
	}
	if current != nil {
		if err := m.disconnectLocked(ctx); err != nil {
			return err
		}
	}

	if err := m.store.SaveSettings(ctx, map[string]string{constants.SettingActiveBackend: id}); err != nil {
		return fmt.Errorf("conn: save active backend: %w", err)
	}
	m.logf("active backend set to %s", id)

	if wasConnected {
		return m.connectLocked(ctx)
	}
	return nil
}

// SwitchVersion activates a kernel version and, when the versioned backend
// is live, restarts it on the new binary.
func (m *Machine) SwitchVersion(ctx context.Context, version string) error {
	if err := m.tryBegin(); err != nil {
		return err
	}
	defer m.transition.Unlock()

	if m.kernel == nil {
		return errors.New("conn: no kernel manager configured")
	}
	if err := m.kernel.Activate(ctx, version); err != nil {
		return err
	}

	current := m.currentAdapter()
	if current != nil && current.ID() == constants.BackendEngineA && m.snapshot().State == StateConnected {
		if err := m.disconnectLocked(ctx); err != nil {
			return err
		}
		return m.connectLocked(ctx)
	}
	return nil
}

// ResetError acknowledges an error state and returns to disconnected. Any
// leftover engine process is stopped best-effort.
func (m *Machine) ResetError(ctx context.Context) error {
	if err := m.tryBegin(); err != nil {
		return err
	}
	defer m.transition.Unlock()

	if m.snapshot().State != StateError {
		return errors.New("conn: not in error state")
	}
	if adapter := m.currentAdapter(); adapter != nil {
		if err := adapter.Stop(ctx); err != nil {
			m.logf("stop after error: %v", err)
		}
	}
	m.setState(StateDisconnected, nil, "")
	return nil
}

// Recover reconciles state after a daemon restart: if the active engine is
// already serving (it outlives the daemon on purpose), report connected.
func (m *Machine) Recover(ctx context.Context) {
	adapter, err := m.activeAdapter(ctx)
	if err != nil {
		return
	}
	if st, err := adapter.Query(ctx); err == nil && st.Ready {
		m.setState(StateConnected, adapter, "")
		m.logf("recovered live %s connection from previous run", adapter.ID())
		go m.refreshExitIP(adapter)
	}
}

// Status returns the current snapshot. For live connections the engine is
// re-queried at most once per cache interval, so UI polling stays cheap.
func (m *Machine) Status(ctx context.Context) Status {
	st := m.snapshot()
	adapter := m.currentAdapter()

	if st.State == StateConnected && adapter != nil {
		raw, ok := m.cachedQuery()
		if !ok {
			fresh, err := adapter.Query(ctx)
			if err != nil {
				// A failed query is not a status; caching its zero value
				// would be served as "not ready" until the cache expires.
				if !engine.IsTransient(err) {
					st.LastError = err.Error()
				}
			} else {
				raw, ok = fresh, true
				m.storeQueryCache(raw)
			}
		}
		if ok && !raw.Ready {
			st.LastError = firstNonEmpty(st.LastError, "engine reports not ready: "+raw.Detail)
		}
	}

	st.ExitIP = m.cachedIP()
	st.AvailableBackends = m.backendInfos(ctx)
	return st
}

// --- internals ---

func (m *Machine) activeAdapter(ctx context.Context) (engine.Adapter, error) {
	settings, err := m.store.LoadSettings(ctx, constants.SettingActiveBackend)
	if err != nil {
		return nil, fmt.Errorf("conn: load active backend: %w", err)
	}
	id := settings[constants.SettingActiveBackend]
	if id == "" {
		id = constants.BackendEngineA
	}
	adapter, ok := m.adapters[id]
	if !ok {
		return nil, fmt.Errorf("conn: unknown backend %q", id)
	}
	return adapter, nil
}

func (m *Machine) waitReady(ctx context.Context, adapter engine.Adapter) error {
	deadline := time.Now().Add(m.readinessBudget)
	ticker := time.NewTicker(m.readinessInterval)
	defer ticker.Stop()

	for {
		st, err := adapter.Query(ctx)
		if err == nil && st.Ready {
			return nil
		}
		if err != nil && !engine.IsTransient(err) {
			return err
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("conn: engine %s not ready within %s (process left running)", adapter.ID(), m.readinessBudget)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *Machine) setState(s State, adapter engine.Adapter, lastError string) {
	m.mu.Lock()
	m.status.State = s
	m.status.Since = time.Now().UTC()
	m.status.LastError = lastError
	if adapter != nil {
		m.status.Backend = adapter.ID()
		m.status.ProxyAddress = adapter.ProxyAddress()
	} else {
		m.status.Backend = ""
		m.status.ProxyAddress = ""
	}
	m.active = adapter
	m.queryCacheAt = time.Time{}
	snapshot := m.status
	m.mu.Unlock()

	log.Printf("[Conn] state: %s", s)
	if m.hub != nil {
		m.hub.Status(snapshot)
	}
}

func (m *Machine) snapshot() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Machine) currentAdapter() engine.Adapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

func (m *Machine) cachedQuery() (engine.RawStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if time.Since(m.queryCacheAt) < constants.StatusCacheTTL {
		return m.queryCache, true
	}
	return engine.RawStatus{}, false
}

func (m *Machine) storeQueryCache(raw engine.RawStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryCache = raw
	m.queryCacheAt = time.Now()
}

func (m *Machine) invalidateIPCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ipCache = nil
	m.ipCacheAt = time.Time{}
}

func (m *Machine) cachedIP() *IPInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ipCache != nil && time.Since(m.ipCacheAt) < constants.IPInfoCacheTTL {
		return m.ipCache
	}
	return nil
}

// refreshExitIP resolves the exit IP through the proxy in the background.
// Failures are logged and leave the cache empty; status reads simply omit
// the field.
func (m *Machine) refreshExitIP(adapter engine.Adapter) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	info, err := m.ipLookup(ctx, adapter.ProxyAddress())
	if err != nil {
		m.logf("exit IP lookup: %v", err)
		return
	}
	m.mu.Lock()
	m.ipCache = info
	m.ipCacheAt = time.Now()
	m.mu.Unlock()
}

func (m *Machine) backendInfos(ctx context.Context) []BackendInfo {
	activeID := ""
	if settings, err := m.store.LoadSettings(ctx, constants.SettingActiveBackend); err == nil {
		activeID = settings[constants.SettingActiveBackend]
	}
	if activeID == "" {
		activeID = constants.BackendEngineA
	}

	infos := make([]BackendInfo, 0, len(m.adapters))
	for id, a := range m.adapters {
		infos = append(infos, BackendInfo{ID: id, Available: a.Available(), Active: id == activeID})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

func (m *Machine) logf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Printf("[Conn] %s", msg)
	if m.hub != nil {
		m.hub.Log(eventhub.LevelInfo, "conn", msg)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
