//go:build linux

package supervisor

import (
	"os/exec"
	"syscall"
)

// configureChildDeathSignal arranges for the kernel to deliver SIGKILL to
// the child the moment this process's thread group leader dies, via
// PR_SET_PDEATHSIG. exec.Cmd's SysProcAttr.Pdeathsig applies the prctl
// call in the forked child before exec, which is the same mechanism
// golang.org/x/sys/unix.Prctl(PR_SET_PDEATHSIG, ...) performs directly;
// using the syscall package's own field avoids a second process-image
// state mutation between fork and exec.
func configureChildDeathSignal(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Pdeathsig: syscall.SIGKILL}
}

// watchParentLiveness is a no-op on Linux: PR_SET_PDEATHSIG is a kernel
// guarantee, not a userspace poll loop.
func watchParentLiveness(*Child) {}

// killProcessTree kills only the child process itself; PR_SET_PDEATHSIG
// already guarantees any further descendants of a dead gateway are the
// upstream tool server's own problem to clean up, same as it would be
// for any other orphaned process tree on Linux.
func killProcessTree(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}

// MaybeRunSupervisor is always false on Linux: PR_SET_PDEATHSIG needs no
// re-exec'd watcher process.
func MaybeRunSupervisor() bool { return false }
