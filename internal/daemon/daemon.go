// Package daemon is the composition root of luminad: it builds the engine
// adapters, connection machine, auth service, node coordinator, event hub
// and HTTP API, and runs them under a service host until shutdown.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lumina-panel/lumina/internal/auth"
	"github.com/lumina-panel/lumina/internal/config"
	configstore "github.com/lumina-panel/lumina/internal/config/store"
	"github.com/lumina-panel/lumina/internal/conn"
	"github.com/lumina-panel/lumina/internal/constants"
	"github.com/lumina-panel/lumina/internal/engine"
	"github.com/lumina-panel/lumina/internal/eventhub"
	"github.com/lumina-panel/lumina/internal/kernel"
	"github.com/lumina-panel/lumina/internal/nodes"
	"github.com/lumina-panel/lumina/internal/observability"
	"github.com/lumina-panel/lumina/internal/procutil"
	daemonruntime "github.com/lumina-panel/lumina/internal/runtime"
	"github.com/lumina-panel/lumina/internal/server"
)

const (
	// storeQueryTimeout bounds context deadlines for store lookups during
	// daemon operation (settings reads, config reload checks).
	storeQueryTimeout = 5 * time.Second

	// serviceOpTimeout bounds service lifecycle operations (restart,
	// graceful shutdown).
	serviceOpTimeout = 5 * time.Second

	// configWatchInterval is the settings-store polling period.
	configWatchInterval = time.Second

	// sessionPurgeInterval is how often expired sessions are removed.
	sessionPurgeInterval = time.Hour
)

// panelSettingKeys are the settings whose change requires an API server
// restart to take effect.
var panelSettingKeys = []string{
	constants.SettingPanelPort,
	constants.SettingPanelBinding,
	constants.SettingTLSEnabled,
	constants.SettingTLSCertPath,
	constants.SettingTLSKeyPath,
	constants.SettingAllowedOrigins,
}

// Options groups dependencies required to construct a Daemon.
type Options struct {
	Store   *configstore.Store
	Version string
}

// Daemon is the luminad process: it owns every runtime service and blocks
// in Start until the lifecycle is shut down. The tunnel engine is
// deliberately NOT stopped on daemon shutdown; the connection survives a
// daemon restart and is re-adopted through the machine's recovery pass.
type Daemon struct {
	store       *configstore.Store
	machine     *conn.Machine
	authSvc     *auth.Service
	apiServer   *server.APIServer
	serviceHost *daemonruntime.ServiceHost
	lifecycle   *daemonruntime.Lifecycle
	hub         *eventhub.Hub
	paths       config.InstancePaths
	version     string

	ctx    context.Context
	cancel context.CancelFunc

	errMu  sync.Mutex
	runErr error

	configMu      sync.Mutex
	configCancel  context.CancelFunc
	panelSnapshot map[string]string
}

// New creates a daemon bound to the provided configuration store.
func New(opts Options) (*Daemon, error) {
	if opts.Store == nil {
		return nil, errors.New("daemon: configuration store is required")
	}

	paths := config.GetInstancePaths(opts.Store.InstanceName())
	hub := eventhub.New()

	manager := kernel.New(kernel.Options{
		Store: opts.Store,
		Dir:   paths.KernelsDir,
	})

	loadCtx, loadCancel := context.WithTimeout(context.Background(), storeQueryTimeout)
	values, err := opts.Store.LoadSettings(loadCtx,
		constants.SettingProxyPort,
		constants.SettingCustomEndpoint,
	)
	loadCancel()
	if err != nil {
		return nil, fmt.Errorf("daemon: load proxy settings: %w", err)
	}

	proxyPort := engine.DefaultProxyPort
	if raw := strings.TrimSpace(values[constants.SettingProxyPort]); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 65535 {
			return nil, fmt.Errorf("daemon: invalid proxy port %q", raw)
		}
		proxyPort = parsed
	}

	engineA := engine.NewEngineA(engine.EngineAOptions{
		BinaryPath: func() (string, error) {
			ctx, cancel := context.WithTimeout(context.Background(), storeQueryTimeout)
			defer cancel()
			return manager.BinaryPath(ctx)
		},
		RunDir:    paths.RunDir,
		ProxyPort: proxyPort,
		Endpoint:  strings.TrimSpace(values[constants.SettingCustomEndpoint]),
		Hub:       hub,
	})
	engineB := engine.NewEngineB(engine.EngineBOptions{
		ProxyPort: proxyPort,
		Hub:       hub,
	})

	machine := conn.New(conn.Options{
		Store:    opts.Store,
		Hub:      hub,
		Adapters: []engine.Adapter{engineA, engineB},
		Kernel:   manager,
	})

	authSvc := auth.New(opts.Store)

	coordinator := nodes.New(nodes.Options{
		Store: opts.Store,
		LocalStatus: func(ctx context.Context) (any, error) {
			return machine.Status(ctx), nil
		},
	})

	exporter := observability.NewExporter()
	exporter.WithStatus(machine)
	exporter.WithHub(hub)

	apiServer, err := server.New(server.Options{
		Store:   opts.Store,
		Machine: machine,
		Auth:    authSvc,
		Kernel:  manager,
		Nodes:   coordinator,
		Hub:     hub,
		Metrics: exporter,
		Version: opts.Version,
	})
	if err != nil {
		return nil, fmt.Errorf("daemon: create API server: %w", err)
	}
	exporter.WithWSClients(apiServer.WSClientCount)

	host := daemonruntime.NewServiceHost()

	if err := host.Register("api", func(ctx context.Context) (daemonruntime.Service, error) {
		return newAPIService(apiServer), nil
	}, daemonruntime.WithShutdownTimeout(constants.ShutdownTimeout)); err != nil {
		return nil, err
	}

	if err := host.Register("session_janitor", func(ctx context.Context) (daemonruntime.Service, error) {
		return newSessionJanitor(authSvc, sessionPurgeInterval), nil
	}); err != nil {
		return nil, err
	}

	d := &Daemon{
		store:       opts.Store,
		machine:     machine,
		authSvc:     authSvc,
		apiServer:   apiServer,
		serviceHost: host,
		lifecycle:   daemonruntime.NewLifecycle(),
		hub:         hub,
		paths:       paths,
		version:     opts.Version,
	}

	apiServer.SetShutdownFunc(func(ctx context.Context) error {
		go func() {
			if err := d.Shutdown(); err != nil {
				log.Printf("[Daemon] shutdown via API returned error: %v", err)
			}
		}()
		return nil
	})

	return d, nil
}

// Start runs the daemon until Shutdown is called. It returns the first
// fatal service error, if any.
func (d *Daemon) Start() error {
	if err := daemonruntime.WritePIDFile(d.paths.Lock, os.Getpid()); err != nil {
		return fmt.Errorf("daemon: write pid file: %w", err)
	}
	defer daemonruntime.RemovePIDFile(d.paths.Lock)

	d.ctx, d.cancel = context.WithCancel(context.Background())

	// Re-adopt a tunnel left running by a previous daemon instance.
	recoverCtx, recoverCancel := context.WithTimeout(d.ctx, constants.Duration10Seconds)
	d.machine.Recover(recoverCtx)
	recoverCancel()

	if err := d.serviceHost.Start(d.ctx); err != nil {
		d.cancel()
		return fmt.Errorf("daemon: start services: %w", err)
	}
	d.watchHostErrors()

	d.configMu.Lock()
	d.panelSnapshot = d.loadPanelSnapshot()
	d.configMu.Unlock()
	if err := d.startConfigWatcher(); err != nil {
		log.Printf("[Daemon] config watcher error: %v", err)
	}

	log.Printf("[Daemon] started (version %s, instance %s)", d.version, d.store.InstanceName())

	<-d.lifecycle.Done()

	d.cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), serviceOpTimeout)
	if err := d.serviceHost.Stop(stopCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[Daemon] service shutdown error: %v", err)
		d.setRunError(err)
	}
	stopCancel()

	d.hub.Shutdown()

	if err := d.store.Close(); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[Daemon] store close error: %v", err)
	}

	return d.runError()
}

// Shutdown signals the daemon to stop. The tunnel engine keeps running.
func (d *Daemon) Shutdown() error {
	d.lifecycle.Shutdown()

	d.configMu.Lock()
	cancelConfig := d.configCancel
	d.configCancel = nil
	d.configMu.Unlock()
	if cancelConfig != nil {
		cancelConfig()
	}

	if d.cancel != nil {
		d.cancel()
	}
	return nil
}

func (d *Daemon) watchHostErrors() {
	go func() {
		for err := range d.serviceHost.Errors() {
			if err == nil {
				continue
			}
			log.Printf("[Daemon] fatal service error: %v", err)
			d.setRunError(err)
			d.lifecycle.Shutdown()
		}
	}()
}

func (d *Daemon) startConfigWatcher() error {
	cancel, err := d.serviceHost.WatchConfig(d.ctx, d.store, configWatchInterval, d.handleConfigEvent)
	if err != nil {
		return err
	}
	d.configMu.Lock()
	d.configCancel = cancel
	d.configMu.Unlock()
	return nil
}

// handleConfigEvent restarts the API server when a panel transport setting
// changes out from under it. Proxy-side settings take effect on the next
// connect and need no restart.
func (d *Daemon) handleConfigEvent(event configstore.ChangeEvent) {
	if !event.SettingsChanged {
		return
	}

	d.configMu.Lock()
	defer d.configMu.Unlock()

	select {
	case <-d.ctx.Done():
		return
	default:
	}

	current := d.loadPanelSnapshot()
	if current == nil || snapshotsEqual(d.panelSnapshot, current) {
		return
	}
	d.panelSnapshot = current

	ctx, cancel := context.WithTimeout(context.Background(), serviceOpTimeout)
	defer cancel()
	if err := d.serviceHost.Restart(ctx, "api"); err != nil {
		log.Printf("[Daemon] restart api after panel settings change failed: %v", err)
		return
	}
	log.Printf("[Daemon] api restarted after panel settings change")
}

func (d *Daemon) loadPanelSnapshot() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), storeQueryTimeout)
	defer cancel()

	values, err := d.store.LoadSettings(ctx, panelSettingKeys...)
	if err != nil {
		log.Printf("[Daemon] load panel settings: %v", err)
		return nil
	}
	return values
}

func snapshotsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for key, value := range a {
		if b[key] != value {
			return false
		}
	}
	return true
}

// IsRunning reports whether a daemon is already running for the default
// instance. A stale pid file left by a crashed daemon is removed.
func IsRunning() bool {
	paths := config.GetInstancePaths("")
	pid := daemonruntime.ReadPIDFile(paths.Lock)
	if pid == 0 {
		return false
	}
	if !procutil.IsProcessAlive(pid) {
		daemonruntime.RemovePIDFile(paths.Lock)
		return false
	}
	return true
}

func (d *Daemon) setRunError(err error) {
	d.errMu.Lock()
	if d.runErr == nil {
		d.runErr = err
	}
	d.errMu.Unlock()
}

func (d *Daemon) runError() error {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	return d.runErr
}
