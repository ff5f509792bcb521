//go:build unix

package main

import (
	"os"
	"os/exec"
	"syscall"
)

// detach puts the daemon in its own process group so terminal signals sent
// to the CLI do not reach it.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// requestStop asks the daemon to shut down gracefully.
func requestStop(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}
