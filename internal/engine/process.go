package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"time"

	"github.com/lumina-panel/lumina/internal/constants"
	"github.com/lumina-panel/lumina/internal/eventhub"
	"github.com/lumina-panel/lumina/internal/procutil"
)

// procHandle owns one launched engine process. A dedicated goroutine calls
// Wait so the child is always reaped, which also keeps
// procutil.TerminateAndWait honest (an unreaped zombie still answers
// signal 0).
type procHandle struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	done   chan error
}

// launch starts name with args, wiring stdout and stderr through the hub as
// log events attributed to source.
func launch(hub *eventhub.Hub, source, name string, args ...string) (*procHandle, error) {
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, name, args...)
	if hub != nil {
		cmd.Stdout = newLineWriter(hub, eventhub.LevelInfo, source)
		cmd.Stderr = newLineWriter(hub, eventhub.LevelWarning, source)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("engine: start %s: %w", name, err)
	}
	h := &procHandle{cmd: cmd, cancel: cancel, done: make(chan error, 1)}
	go func() {
		h.done <- cmd.Wait()
		close(h.done)
	}()
	return h, nil
}

// alive reports whether the process is still running.
func (h *procHandle) alive() bool {
	if h == nil || h.cmd == nil || h.cmd.Process == nil {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// stop terminates the process, escalating from SIGTERM to SIGKILL, and
// waits for the reaper goroutine. Exit errors from a terminated child are
// expected and not reported.
func (h *procHandle) stop() error {
	if h == nil || h.cmd == nil || h.cmd.Process == nil {
		return nil
	}
	if h.alive() {
		if err := procutil.TerminateAndWait(h.cmd.Process, constants.ShutdownTimeout); err != nil {
			h.cancel()
		}
	}
	h.cancel()
	select {
	case err := <-h.done:
		if err == nil {
			return nil
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) || errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("engine: process exit: %w", err)
	case <-time.After(constants.ShutdownTimeout):
		return errors.New("engine: process did not exit after kill")
	}
}

// probePort reports whether something is accepting TCP connections on the
// loopback port.
func probePort(port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), 500*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// waitPortRelease blocks until nothing listens on the port anymore, so a
// replacement engine can bind it. The context bounds the wait.
func waitPortRelease(ctx context.Context, port int) error {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		if !probePort(port) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("engine: port %d still in use: %w", port, ctx.Err())
		case <-ticker.C:
		}
	}
}
