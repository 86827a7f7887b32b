//go:build windows

package cli

import (
	"os"
	"os/exec"
)

// setSysProcAttr is a no-op on Windows; there is no session to detach from.
// Running 'loom serve' in the foreground under a service wrapper is the
// supported mode there.
func setSysProcAttr(cmd *exec.Cmd) {}

// isProcessRunning reports whether the PID from the pidfile refers to a
// live process. On Windows, FindProcess opens a real handle and fails when
// the process is gone, so success is the liveness check.
func isProcessRunning(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	proc.Release()
	return true
}

// stopProcess kills the server outright; Windows has no SIGTERM, so there
// is no graceful drain on this platform.
func stopProcess(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}
