//go:build windows

package procutil

import (
	"fmt"
	"os"
	"syscall"
	"time"
)

const processQueryLimitedInformation = 0x1000

// GracefulTerminate terminates the process. On Windows, Process.Signal only
// supports os.Kill, so we use that directly (TerminateProcess).
func GracefulTerminate(p *os.Process) error {
	return p.Kill()
}

// TerminateByPID terminates the process identified by pid.
func TerminateByPID(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid: %d", pid)
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	defer p.Release()
	return p.Kill()
}

// Kill forcefully terminates the process.
func Kill(p *os.Process) error {
	return p.Kill()
}

// IsProcessAlive checks whether a process with the given pid is still running
// by attempting to open a handle with PROCESS_QUERY_LIMITED_INFORMATION.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	h, err := syscall.OpenProcess(processQueryLimitedInformation, false, uint32(pid))
	if err != nil {
		return false
	}
	syscall.CloseHandle(h)
	return true
}

// TerminateAndWait terminates the process and waits up to timeout for it to
// disappear. Windows has no graceful signal; termination is immediate.
func TerminateAndWait(p *os.Process, timeout time.Duration) error {
	if err := p.Kill(); err != nil && err != os.ErrProcessDone {
		return err
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !IsProcessAlive(p.Pid) {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return nil
}
