//go:build !windows

package launcher

import "syscall"

func processAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func signalGroup(pid int, sig syscall.Signal) error {
	return syscall.Kill(-pid, sig)
}

const (
	interruptSignal = syscall.SIGINT
	killSignal      = syscall.SIGKILL
)
