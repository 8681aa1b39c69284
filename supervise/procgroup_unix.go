//go:build !windows

package supervise

import (
	"os/exec"
	"syscall"
)

// setupProcessGroup configures the command to start in its own process
// group so the entire tree it spawns can be signaled as a unit.
func setupProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalGroup sends sig to the child's process group. The negative pid
// targets the whole group rather than a single process. Delivery is
// best-effort; the group may already be gone.
func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd.Process == nil {
		return nil
	}
	return syscall.Kill(-cmd.Process.Pid, sig)
}
