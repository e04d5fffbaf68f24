//go:build !windows

package shell

import (
	"os/exec"
	"syscall"
)

// platformExitCode maps a signal-terminated process to 128+signal, the
// POSIX shell convention, and otherwise returns its plain exit status.
func platformExitCode(exitErr *exec.ExitError) int {
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return exitErr.ExitCode()
	}
	if status.Signaled() {
		return 128 + int(status.Signal())
	}
	return status.ExitStatus()
}
