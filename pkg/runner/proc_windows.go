//go:build windows

package runner

import (
	"os/exec"
	"strconv"
)

func configureProcess(cmd *exec.Cmd) {}

// killProcess terminates the child and its descendants.
func killProcess(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	kill := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(cmd.Process.Pid))
	if err := kill.Run(); err != nil {
		return cmd.Process.Kill()
	}
	return nil
}
