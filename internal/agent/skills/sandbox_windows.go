//go:build windows

package skills

import (
	"os/exec"
	"syscall"
)

func sandboxSysProcAttr() *syscall.SysProcAttr {
	return nil
}

func killSandboxProcess(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
