package engine

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/lumina-panel/lumina/internal/constants"
	"github.com/lumina-panel/lumina/internal/eventhub"
)

// DefaultEngineBInternalPort is the fixed loopback SOCKS port the system
// engine daemon serves in proxy mode.
const DefaultEngineBInternalPort = 40001

// CommandRunner executes one control-CLI invocation and returns its
// combined output. Injected so tests can fake the system CLI.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return string(out), err
}

// EngineBOptions configures the system-CLI engine.
type EngineBOptions struct {
	// CLIName is the control CLI binary on PATH. Defaults to "warp-cli".
	CLIName string

	// ProxyPort is the local SOCKS bridge port exposed to clients.
	ProxyPort int

	// InternalPort is the daemon's own SOCKS port the bridge relays to.
	// Defaults to DefaultEngineBInternalPort.
	InternalPort int

	Hub *eventhub.Hub

	// Runner overrides CLI execution in tests.
	Runner CommandRunner
}

// EngineB drives the system-installed tunnel client through its control
// CLI. The tunnel daemon is a system service outside our supervision; we
// register, connect and disconnect through the CLI and relay the daemon's
// fixed internal SOCKS port onto the configured bridge port. Rotation
// happens in place through the CLI, no reconnect needed.
type EngineB struct {
	opts     EngineBOptions
	runner   CommandRunner
	lookPath func(string) (string, error)

	mu     sync.Mutex
	bridge *bridge
}

func NewEngineB(opts EngineBOptions) *EngineB {
	if opts.CLIName == "" {
		opts.CLIName = "warp-cli"
	}
	if opts.InternalPort == 0 {
		opts.InternalPort = DefaultEngineBInternalPort
	}
	runner := opts.Runner
	if runner == nil {
		runner = execRunner{}
	}
	return &EngineB{opts: opts, runner: runner, lookPath: exec.LookPath}
}

func (b *EngineB) ID() string { return constants.BackendEngineB }

func (b *EngineB) Available() bool {
	_, err := b.lookPath(b.opts.CLIName)
	return err == nil
}

func (b *EngineB) ProxyAddress() string {
	return "socks5://127.0.0.1:" + strconv.Itoa(b.opts.ProxyPort)
}

func (b *EngineB) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.lookPath(b.opts.CLIName); err != nil {
		return &StartupError{Engine: b.ID(), Op: "locate CLI", Err: err}
	}
	if err := b.ensureRegistered(ctx); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, constants.EngineStartTimeout)
	defer cancel()
	if out, err := b.cli(startCtx, "set-mode", "proxy"); err != nil {
		b.logf(eventhub.LevelWarning, "set proxy mode: %s", abbreviateOutput(out))
	}
	if out, err := b.cli(startCtx, "connect"); err != nil {
		return &StartupError{Engine: b.ID(), Op: "connect", Err: cliError(err, out)}
	}

	if b.bridge == nil {
		releaseCtx, cancelRelease := context.WithTimeout(ctx, constants.ProxyPortReleaseTimeout)
		defer cancelRelease()
		if err := waitPortRelease(releaseCtx, b.opts.ProxyPort); err != nil {
			return &StartupError{Engine: b.ID(), Op: "bind proxy port", Err: err}
		}
		br, err := startBridge(b.opts.ProxyPort, b.opts.InternalPort)
		if err != nil {
			return &StartupError{Engine: b.ID(), Op: "start bridge", Err: err}
		}
		b.bridge = br
	}
	return nil
}

// Stop tears down the bridge and disconnects the tunnel. The system daemon
// itself keeps running; it is not ours to stop.
func (b *EngineB) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bridge != nil {
		b.bridge.stop()
		b.bridge = nil
	}
	stopCtx, cancel := context.WithTimeout(ctx, constants.EngineStartTimeout)
	defer cancel()
	if out, err := b.cli(stopCtx, "disconnect"); err != nil {
		// Already disconnected is fine, a dead daemon is not.
		if strings.Contains(strings.ToLower(out), "disconnected") {
			return nil
		}
		return fmt.Errorf("engine %s: disconnect: %w", b.ID(), cliError(err, out))
	}
	return nil
}

func (b *EngineB) Query(ctx context.Context) (RawStatus, error) {
	b.mu.Lock()
	hasBridge := b.bridge != nil
	b.mu.Unlock()

	st := RawStatus{Protocol: "wireguard"}
	queryCtx, cancel := context.WithTimeout(ctx, constants.Duration2Seconds)
	defer cancel()
	out, err := b.cli(queryCtx, "status")
	if err != nil {
		return st, &NotReadyError{Reason: "control daemon unreachable"}
	}
	st.Running = true
	st.Detail = abbreviateOutput(out)
	switch {
	case containsFold(out, "connected") && !containsFold(out, "disconnected"):
		if !hasBridge {
			return st, &NotReadyError{Reason: "bridge not running"}
		}
		st.Ready = true
		return st, nil
	case containsFold(out, "connecting"):
		return st, &NotReadyError{Reason: "tunnel connecting"}
	default:
		return st, &NotReadyError{Reason: "tunnel not connected"}
	}
}

// Rotate re-registers in place. The tunnel renegotiates transparently, so
// no reconnect is required.
func (b *EngineB) Rotate(ctx context.Context) (RotateOutcome, error) {
	rotateCtx, cancel := context.WithTimeout(ctx, constants.EngineStartTimeout)
	defer cancel()
	if out, err := b.cli(rotateCtx, "registration", "rotate"); err != nil {
		return RotateOutcome{}, fmt.Errorf("engine %s: rotate registration: %w", b.ID(), cliError(err, out))
	}
	return RotateOutcome{
		RequiresReconnect: false,
		Detail:            "registration rotated in place",
	}, nil
}

func (b *EngineB) ensureRegistered(ctx context.Context) error {
	regCtx, cancel := context.WithTimeout(ctx, constants.EngineStartTimeout)
	defer cancel()
	out, err := b.cli(regCtx, "registration", "show")
	if err == nil && !containsFold(out, "missing") {
		return nil
	}
	if out, err := b.cli(regCtx, "registration", "new"); err != nil {
		return &StartupError{Engine: b.ID(), Op: "register", Err: cliError(err, out)}
	}
	b.logf(eventhub.LevelInfo, "device registered")
	return nil
}

// cli runs one control command with the license-acceptance flag always set
// so a fresh host never blocks on an interactive prompt.
func (b *EngineB) cli(ctx context.Context, args ...string) (string, error) {
	full := append([]string{"--accept-tos"}, args...)
	return b.runner.Run(ctx, b.opts.CLIName, full...)
}

func (b *EngineB) logf(level string, format string, args ...any) {
	if b.opts.Hub == nil {
		return
	}
	b.opts.Hub.Log(level, constants.BackendEngineB, fmt.Sprintf(format, args...))
}

func cliError(err error, out string) error {
	detail := abbreviateOutput(out)
	if detail == "" {
		return err
	}
	return fmt.Errorf("%w: %s", err, detail)
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), substr)
}

var (
	_ Adapter = (*EngineA)(nil)
	_ Adapter = (*EngineB)(nil)
)
