//go:build windows

package supervisor

import (
	"os/exec"
	"unsafe"

	"golang.org/x/sys/windows"
)

// configureChildDeathSignal has nothing to set on exec.Cmd itself on
// Windows; the kill-on-parent-death guarantee is installed after Start
// via a Job Object, in watchParentLiveness below, since a Job Object
// needs the child's live process handle.
func configureChildDeathSignal(*exec.Cmd) {}

// watchParentLiveness assigns the freshly spawned child to a Windows Job
// Object configured with JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE: the OS kills
// every process in the job the moment the job handle's last reference
// (ours) goes away, which happens when this process exits for any
// reason, including a SIGKILL-equivalent TerminateProcess.
//
// This assignment happens after exec.Cmd.Start() has already resumed
// the child's main thread, because exec.Cmd offers no CREATE_SUSPENDED
// hook: there is a window, between Start returning and this function's
// AssignProcessToJobObject call, during which the child is running but
// not yet bound to the job. A child that manages to fork a grandchild
// and exit within that window before the assignment completes leaves
// that grandchild outside the job and thus outside the kill-on-parent-
// death guarantee. Closing this window requires creating the process
// suspended via a hand-rolled windows.CreateProcess call with manual
// stdio pipe plumbing in place of exec.Cmd; that rewrite is not done
// here. The window is narrow (typically sub-millisecond, no I/O or
// scheduling in between) and only matters for a child that races to
// fork-and-exit inside it, which a well-behaved MCP tool server does
// not do on startup.
func watchParentLiveness(c *Child) {
	job, err := windows.CreateJobObject(nil, nil)
	if err != nil {
		return
	}

	info := windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION{
		BasicLimitInformation: windows.JOBOBJECT_BASIC_LIMIT_INFORMATION{
			LimitFlags: windows.JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE,
		},
	}
	_, _ = windows.SetInformationJobObject(
		job,
		windows.JobObjectExtendedLimitInformation,
		uintptr(unsafe.Pointer(&info)),
		uint32(unsafe.Sizeof(info)),
	)

	if c.cmd.Process == nil {
		windows.CloseHandle(job)
		return
	}
	handle, err := windows.OpenProcess(windows.PROCESS_SET_QUOTA|windows.PROCESS_TERMINATE, false, uint32(c.cmd.Process.Pid))
	if err != nil {
		windows.CloseHandle(job)
		return
	}
	_ = windows.AssignProcessToJobObject(job, handle)
	// job and handle are intentionally leaked for the life of the
	// process: closing either early would defeat the guarantee they
	// exist to provide.
}

// killProcessTree kills the child process directly; the Job Object
// assigned in watchParentLiveness is what guarantees descendants die
// too; this call is for the ordinary explicit-shutdown path, not the
// kill-on-parent-death path.
func killProcessTree(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}

// MaybeRunSupervisor is always false on Windows: the Job Object
// mechanism needs no re-exec'd watcher process.
func MaybeRunSupervisor() bool { return false }
