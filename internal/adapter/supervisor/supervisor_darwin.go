//go:build darwin

package supervisor

import (
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

// supervisorModeArg marks a re-exec'd invocation of this same binary as
// the Darwin supervisor process rather than the gateway itself. Darwin
// has neither PR_SET_PDEATHSIG nor a Job-Object-style handle that kills
// a process tree when its last reference closes, so Spawn re-execs a
// second copy of this binary to watch the gateway from outside its own
// process -- the only place a watcher can still act once the gateway is
// SIGKILLed, since a same-process goroutine dies in that same instant.
const supervisorModeArg = "__mcpgate_supervisor__"

// configureChildDeathSignal rewrites cmd to re-exec this binary into
// supervisor mode instead of running the real upstream command directly.
// The rewritten argv carries this process's own pid and the original
// command+args; MaybeRunSupervisor on the far side of that re-exec
// parses them back out and spawns the real command itself. cmd is given
// its own process group so killProcessTree can reach both the
// supervisor and the real child it spawns with one negative-pid signal.
func configureChildDeathSignal(cmd *exec.Cmd) {
	self, err := os.Executable()
	if err != nil {
		return
	}
	target := cmd.Path
	targetArgs := append([]string(nil), cmd.Args[1:]...)
	cmd.Path = self
	cmd.Args = append([]string{self, supervisorModeArg, strconv.Itoa(os.Getpid()), target}, targetArgs...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// watchParentLiveness is a no-op on Darwin: the actual watching happens
// inside the re-exec'd supervisor process started by
// configureChildDeathSignal, not as a goroutine in this process. A
// same-process watcher would die alongside the whole process in exactly
// the scenario it exists to guard against -- a SIGKILL or OOM-kill that
// takes the gateway and all its goroutines out in the same instant.
func watchParentLiveness(*Child) {}

// killProcessTree kills cmd's entire process group. On Darwin, cmd.cmd
// wraps the re-exec'd supervisor process, which shares its process
// group with the real upstream child it spawned (see runSupervisor), so
// one negative-pid signal reaches both.
func killProcessTree(cmd *exec.Cmd) error {
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}

// MaybeRunSupervisor checks whether this invocation is a re-exec'd
// supervisor-mode process produced by configureChildDeathSignal and, if
// so, runs the supervisor loop and never returns: it spawns the real
// target command given in argv, forwards its stdio directly, and
// watches the original gateway pid via kqueue, killing the target's
// process group the instant that pid dies. It does nothing and returns
// false for a normal, non-supervisor invocation.
func MaybeRunSupervisor() bool {
	if len(os.Args) < 4 || os.Args[1] != supervisorModeArg {
		return false
	}
	gatewayPid, err := strconv.Atoi(os.Args[2])
	if err != nil {
		os.Exit(1)
	}
	runSupervisor(gatewayPid, os.Args[3], os.Args[4:])
	return true
}

// runSupervisor spawns the real target upstream process, watches
// gatewayPid via kqueue, and exits this process once either the target
// exits on its own or gatewayPid dies. It never returns.
func runSupervisor(gatewayPid int, name string, args []string) {
	cmd := exec.Command(name, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		os.Exit(1)
	}

	childDone := make(chan error, 1)
	go func() { childDone <- cmd.Wait() }()

	kq, err := unix.Kqueue()
	if err != nil {
		<-childDone
		os.Exit(exitCodeOf(cmd))
	}
	defer unix.Close(kq)

	changes := []unix.Kevent_t{{
		Ident:  uint64(gatewayPid),
		Filter: unix.EVFILT_PROC,
		Flags:  unix.EV_ADD | unix.EV_ENABLE,
		Fflags: unix.NOTE_EXIT,
	}}
	if _, err := unix.Kevent(kq, changes, nil, nil); err != nil {
		<-childDone
		os.Exit(exitCodeOf(cmd))
	}

	gatewayDead := make(chan struct{})
	go func() {
		events := make([]unix.Kevent_t, 1)
		for {
			n, err := unix.Kevent(kq, nil, events, nil)
			if err != nil {
				return
			}
			for _, ev := range events[:n] {
				if ev.Filter == unix.EVFILT_PROC && ev.Fflags&unix.NOTE_EXIT != 0 {
					close(gatewayDead)
					return
				}
			}
		}
	}()

	select {
	case <-childDone:
		os.Exit(exitCodeOf(cmd))
	case <-gatewayDead:
		_ = syscall.Kill(-os.Getpid(), syscall.SIGKILL)
		os.Exit(1)
	}
}

func exitCodeOf(cmd *exec.Cmd) int {
	if cmd.ProcessState == nil {
		return 1
	}
	return cmd.ProcessState.ExitCode()
}
