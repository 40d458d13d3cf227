package runner

import "syscall"

// sysProcAttr describes the session the child runs in. Setsid makes the
// program the leader of a new session with no controlling terminal, so
// signals aimed at init's session or process group never reach it.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setsid: true,
	}
}
