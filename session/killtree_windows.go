//go:build windows

package session

import (
	"os"
	"os/exec"
	"strconv"
)

// setProcessGroup is a no-op: taskkill walks the child tree by parent id.
func setProcessGroup(*exec.Cmd) {}

// killProcessTree kills p and every process it started.
func killProcessTree(p *os.Process) error {
	if err := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(p.Pid)).Run(); err != nil {
		return p.Kill()
	}
	return nil
}
