//go:build unix

package runner

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// SetGroup makes cmd start in its own process group.
func SetGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// ConfigureGroup starts cmd in its own process group and makes context
// cancellation kill the whole group. cmd must come from exec.CommandContext.
func ConfigureGroup(cmd *exec.Cmd) {
	SetGroup(cmd)
	cmd.Cancel = func() error {
		return KillGroup(cmd.Process)
	}
}

// InterruptGroup sends SIGINT to the process group led by p.
func InterruptGroup(p *os.Process) error {
	return signalGroup(p, syscall.SIGINT)
}

// KillGroup sends SIGKILL to the process group led by p.
func KillGroup(p *os.Process) error {
	return signalGroup(p, syscall.SIGKILL)
}

func signalGroup(p *os.Process, sig syscall.Signal) error {
	if p == nil {
		return os.ErrProcessDone
	}
	err := syscall.Kill(-p.Pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return os.ErrProcessDone
	}
	return err
}
