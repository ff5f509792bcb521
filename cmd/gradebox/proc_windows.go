//go:build windows

package main

import (
	"os"
	"os/exec"
	"syscall"
)

func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

// requestStop kills the daemon; Windows has no SIGTERM delivery, so pending
// saves are lost unless the daemon flushed them already.
func requestStop(p *os.Process) error {
	return p.Kill()
}
