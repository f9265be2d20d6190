// Package supervisor spawns the upstream MCP child process and arranges
// for it to die when this gateway process dies unexpectedly -- a crash,
// a SIGKILL the gateway cannot trap, an orphaning container restart --
// rather than leaking an upstream tool server no one is proxying for
// anymore. The mechanism is platform-specific; this file holds the
// common Child/Supervisor surface, with OS-specific process handling
// split out by build tag into supervisor_linux.go, supervisor_darwin.go,
// supervisor_windows.go, and supervisor_other.go.
//
// On Linux, PR_SET_PDEATHSIG is a kernel guarantee applied at exec time.
// On Windows, a Job Object is assigned to the child after it starts. On
// Darwin, which has neither primitive, Spawn re-execs this same binary
// into a small supervisor process (see supervisor_darwin.go) that spawns
// the real upstream child itself and watches the original gateway
// process via kqueue, killing the real child's process group the moment
// the gateway dies -- a same-process watcher goroutine cannot do this,
// since a signal that kills the gateway (e.g. an OOM-killer sweep of its
// whole cgroup) kills that goroutine in the same instant.
package supervisor

import (
	"context"
	"fmt"
	"io"
	"os/exec"
)

// Child is a spawned upstream process along with its stdio pipes. On
// Darwin, cmd is the re-exec'd supervisor process standing in for the
// real upstream child; see supervisor_darwin.go.
type Child struct {
	cmd    *exec.Cmd
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
	Stderr io.ReadCloser
}

// Pid returns the OS process id of cmd as started by Spawn. On Darwin
// this is the re-exec'd supervisor's pid, not the real upstream child's.
func (c *Child) Pid() int {
	if c.cmd.Process == nil {
		return -1
	}
	return c.cmd.Process.Pid
}

// Wait blocks until the child process exits.
func (c *Child) Wait() error { return c.cmd.Wait() }

// Kill forcibly terminates the child process and, on platforms where
// killProcessTree is wired to do so, any process tree rooted at it.
func (c *Child) Kill() error {
	if c.cmd.Process == nil {
		return nil
	}
	return killProcessTree(c.cmd)
}

// Spawn starts name with args under kill-on-parent-death supervision and
// returns its stdio pipes. The ctx is used only to cancel the spawn
// attempt itself (an already-canceled ctx makes Spawn fail without
// starting anything); it does not bound the child's lifetime.
func Spawn(ctx context.Context, name string, args []string) (*Child, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("supervisor: spawn canceled: %w", err)
	}
	cmd := exec.Command(name, args...)
	configureChildDeathSignal(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("supervisor: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("supervisor: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("supervisor: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("supervisor: starting %q: %w", name, err)
	}

	child := &Child{cmd: cmd, Stdin: stdin, Stdout: stdout, Stderr: stderr}
	watchParentLiveness(child)
	return child, nil
}
