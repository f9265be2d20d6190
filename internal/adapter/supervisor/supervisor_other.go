//go:build !linux && !windows && !darwin

package supervisor

import "os/exec"

// configureChildDeathSignal and watchParentLiveness are no-ops on
// platforms without a kill-on-parent-death primitive wired up; the child
// is still tracked and reaped normally, it just is not guaranteed to die
// alongside an abnormally terminated parent.
func configureChildDeathSignal(*exec.Cmd) {}
func watchParentLiveness(*Child)          {}

// killProcessTree falls back to killing only the direct child process;
// no kill-on-parent-death primitive is wired up on these platforms
// either way.
func killProcessTree(cmd *exec.Cmd) error { return cmd.Process.Kill() }

// MaybeRunSupervisor is always false: no platform-specific supervisor
// mode is implemented outside of Darwin.
func MaybeRunSupervisor() bool { return false }
