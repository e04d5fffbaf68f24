//go:build windows

package shell

import "os/exec"

// platformExitCode on Windows has no signal concept; a process that
// couldn't be classified reports a negative sentinel distinct from any
// real exit code.
func platformExitCode(exitErr *exec.ExitError) int {
	code := exitErr.ExitCode()
	if code < 0 {
		return -1
	}
	return code
}
