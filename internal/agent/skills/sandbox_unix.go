//go:build !windows

package skills

import (
	"os/exec"
	"syscall"
)

// sandboxSysProcAttr puts the interpreter in its own process group so a
// timeout kill reaches any children the skill spawned.
func sandboxSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// killSandboxProcess kills the whole process group.
func killSandboxProcess(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		return cmd.Process.Kill()
	}
	return nil
}
