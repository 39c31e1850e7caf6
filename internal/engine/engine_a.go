package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lumina-panel/lumina/internal/constants"
	"github.com/lumina-panel/lumina/internal/eventhub"
)

// EngineAOptions configures the versioned MASQUE engine. BinaryPath is
// resolved on every Start so a kernel switch takes effect on the next
// connect without restarting the daemon.
type EngineAOptions struct {
	// BinaryPath resolves the active engine binary. Required.
	BinaryPath func() (string, error)

	// RunDir holds the registration state (config.json). Required.
	RunDir string

	// ProxyPort is the local SOCKS bridge port.
	ProxyPort int

	// Endpoint optionally overrides the tunnel endpoint (host:port).
	Endpoint string

	Hub *eventhub.Hub
}

// EngineA runs the standalone MASQUE client binary. The binary keeps its
// device registration in a config file under RunDir and serves the SOCKS
// bridge itself, so rotation means dropping the registration and running a
// fresh register-plus-connect cycle.
type EngineA struct {
	opts EngineAOptions

	mu     sync.Mutex
	handle *procHandle
	stdout *lineWriter
	stderr *lineWriter
}

func NewEngineA(opts EngineAOptions) *EngineA {
	return &EngineA{opts: opts}
}

func (a *EngineA) ID() string { return constants.BackendEngineA }

func (a *EngineA) Available() bool {
	if a.opts.BinaryPath == nil {
		return false
	}
	bin, err := a.opts.BinaryPath()
	if err != nil {
		return false
	}
	info, err := os.Stat(bin)
	return err == nil && !info.IsDir()
}

func (a *EngineA) ProxyAddress() string {
	return "socks5://127.0.0.1:" + strconv.Itoa(a.opts.ProxyPort)
}

func (a *EngineA) configPath() string {
	return filepath.Join(a.opts.RunDir, "engine_a", "config.json")
}

func (a *EngineA) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.handle.alive() {
		return nil
	}

	bin, err := a.resolveBinary()
	if err != nil {
		return err
	}
	if err := a.ensureRegistered(ctx, bin); err != nil {
		return err
	}

	releaseCtx, cancel := context.WithTimeout(ctx, constants.ProxyPortReleaseTimeout)
	defer cancel()
	if err := waitPortRelease(releaseCtx, a.opts.ProxyPort); err != nil {
		return &StartupError{Engine: a.ID(), Op: "bind proxy port", Err: err}
	}

	args := []string{
		"socks",
		"--config", a.configPath(),
		"--bind", "127.0.0.1",
		"--port", strconv.Itoa(a.opts.ProxyPort),
	}
	if a.opts.Endpoint != "" {
		args = append(args, "--endpoint", a.opts.Endpoint)
	}
	handle, err := launch(a.opts.Hub, constants.BackendEngineA, bin, args...)
	if err != nil {
		return &StartupError{Engine: a.ID(), Op: "spawn", Err: err}
	}
	a.handle = handle

	// Give the process its startup budget to bind the bridge port. Not
	// binding in time is not fatal here; the readiness poll carries on.
	deadline := time.Now().Add(constants.EngineStartTimeout)
	for time.Now().Before(deadline) {
		if !handle.alive() {
			a.handle = nil
			return &StartupError{Engine: a.ID(), Op: "startup", Err: errors.New("process exited during startup")}
		}
		if probePort(a.opts.ProxyPort) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(constants.Duration250Milliseconds):
		}
	}
	return nil
}

func (a *EngineA) Stop(ctx context.Context) error {
	a.mu.Lock()
	handle := a.handle
	a.handle = nil
	a.mu.Unlock()
	if handle == nil {
		return nil
	}
	if err := handle.stop(); err != nil {
		return err
	}
	releaseCtx, cancel := context.WithTimeout(ctx, constants.ProxyPortReleaseTimeout)
	defer cancel()
	return waitPortRelease(releaseCtx, a.opts.ProxyPort)
}

func (a *EngineA) Query(_ context.Context) (RawStatus, error) {
	a.mu.Lock()
	handle := a.handle
	a.mu.Unlock()

	st := RawStatus{Protocol: "masque"}
	if !handle.alive() {
		return st, &NotReadyError{Reason: "process not running"}
	}
	st.Running = true
	if !probePort(a.opts.ProxyPort) {
		st.Detail = "bridge port not bound"
		return st, &NotReadyError{Reason: "bridge port not bound"}
	}
	st.Ready = true
	return st, nil
}

// Rotate drops the stored registration so the next Start registers a fresh
// device identity. The caller owns the stop/start cycle around it.
func (a *EngineA) Rotate(_ context.Context) (RotateOutcome, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := os.Remove(a.configPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return RotateOutcome{}, fmt.Errorf("engine %s: reset registration: %w", a.ID(), err)
	}
	return RotateOutcome{
		RequiresReconnect: true,
		Detail:            "registration reset, reconnect required",
	}, nil
}

func (a *EngineA) resolveBinary() (string, error) {
	if a.opts.BinaryPath == nil {
		return "", &StartupError{Engine: a.ID(), Op: "resolve binary", Err: errors.New("no binary resolver configured")}
	}
	bin, err := a.opts.BinaryPath()
	if err != nil {
		return "", &StartupError{Engine: a.ID(), Op: "resolve binary", Err: err}
	}
	if _, err := os.Stat(bin); err != nil {
		return "", &StartupError{Engine: a.ID(), Op: "resolve binary", Err: err}
	}
	return bin, nil
}

// ensureRegistered runs the binary's interactive registration if no config
// exists yet, answering the terms prompt on stdin.
func (a *EngineA) ensureRegistered(ctx context.Context, bin string) error {
	cfg := a.configPath()
	if _, err := os.Stat(cfg); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg), 0o755); err != nil {
		return &StartupError{Engine: a.ID(), Op: "register", Err: err}
	}

	regCtx, cancel := context.WithTimeout(ctx, constants.EngineStartTimeout)
	defer cancel()
	cmd := exec.CommandContext(regCtx, bin, "register", "--accept-tos", "--config", cfg)
	cmd.Stdin = strings.NewReader("y\n")
	out, err := cmd.CombinedOutput()
	if err != nil {
		detail := strings.TrimSpace(string(out))
		if detail != "" {
			err = fmt.Errorf("%w: %s", err, abbreviateOutput(detail))
		}
		return &StartupError{Engine: a.ID(), Op: "register", Err: err}
	}
	if a.opts.Hub != nil {
		a.opts.Hub.Log(eventhub.LevelInfo, constants.BackendEngineA, "device registered")
	}
	return nil
}

func abbreviateOutput(s string) string {
	const max = 200
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > max {
		return s[:max] + "…"
	}
	return s
}
