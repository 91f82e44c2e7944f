//go:build windows

package backendproc

import "os/exec"

func setpgid(cmd *exec.Cmd) {}

// Windows has no TERM; Kill is the only stop there is.
func signalTerm(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}

func killGroup(cmd *exec.Cmd) {
	_ = cmd.Process.Kill()
}
