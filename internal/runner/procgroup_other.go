//go:build !unix

package runner

import (
	"os"
	"os/exec"
)

// SetGroup is a no-op where process groups are unavailable.
func SetGroup(*exec.Cmd) {}

// ConfigureGroup is a no-op where process groups are unavailable; context
// cancellation kills the direct child only.
func ConfigureGroup(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		return cmd.Process.Kill()
	}
}

// InterruptGroup falls back to killing the process; interrupts cannot be
// delivered to another process on this platform.
func InterruptGroup(p *os.Process) error {
	if p == nil {
		return os.ErrProcessDone
	}
	return p.Kill()
}

// KillGroup kills the process.
func KillGroup(p *os.Process) error {
	if p == nil {
		return os.ErrProcessDone
	}
	return p.Kill()
}
