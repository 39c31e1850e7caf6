//go:build !windows

package procutil

import (
	"os"
	"syscall"
	"time"
)

// GracefulTerminate sends SIGTERM to the process for graceful shutdown.
func GracefulTerminate(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}

// TerminateByPID sends SIGTERM to the process identified by pid.
func TerminateByPID(pid int) error {
	return syscall.Kill(pid, syscall.SIGTERM)
}

// Kill forcefully terminates the process.
func Kill(p *os.Process) error {
	return p.Kill()
}

// IsProcessAlive checks whether a process with the given pid is still running.
func IsProcessAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// TerminateAndWait sends SIGTERM, waits up to timeout for the process to
// exit, then escalates to SIGKILL. The caller still owns the process and
// must Wait on it to reap the zombie.
func TerminateAndWait(p *os.Process, timeout time.Duration) error {
	if err := GracefulTerminate(p); err != nil {
		// Process already gone counts as success: stop is idempotent.
		if err == os.ErrProcessDone {
			return nil
		}
		return err
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !IsProcessAlive(p.Pid) {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}

	if err := p.Kill(); err != nil && err != os.ErrProcessDone {
		return err
	}
	return nil
}
