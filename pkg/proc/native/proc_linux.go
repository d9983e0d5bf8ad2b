//go:build linux && amd64

package native

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	sys "golang.org/x/sys/unix"

	"github.com/buildfail/ich/pkg/logflags"
	"github.com/buildfail/ich/pkg/proc"
)

// LaunchOptions configures how the traced child is started.
type LaunchOptions struct {
	// PreloadVariable and PreloadPath are added to the environment of the
	// child so that the dynamic loader maps PreloadPath before the target
	// runs. Nothing is added if PreloadPath is empty.
	PreloadVariable string
	PreloadPath     string
	// TTY is the path of a terminal to use for the standard streams of the
	// child, the harness' own streams are inherited if empty.
	TTY string
}

// Launch creates a new traced process. The first entry of cmd is passed
// unmodified to execve, the rest are its arguments. When Launch returns the
// child is stopped right after the execve, before the dynamic loader and
// therefore any target code has run.
//
// If the image can not be executed the child terminates and a
// *proc.LaunchError is returned.
func Launch(cmd []string, opts LaunchOptions) (*Process, error) {
	if len(cmd) == 0 {
		return nil, errors.New("no command to launch")
	}
	var (
		process *exec.Cmd
		ttyErr  error
		err     error
	)

	dbp := newProcess(0)
	dbp.execPtraceFunc(func() {
		process = &exec.Cmd{
			Path:   cmd[0],
			Args:   cmd,
			Env:    PreloadEnv(os.Environ(), opts.PreloadVariable, opts.PreloadPath),
			Stdin:  os.Stdin,
			Stdout: os.Stdout,
			Stderr: os.Stderr,
			SysProcAttr: &syscall.SysProcAttr{
				Ptrace: true,
			},
		}
		if opts.TTY != "" {
			dbp.ctty, ttyErr = attachProcessToTTY(process, opts.TTY)
			if ttyErr != nil {
				return
			}
		}
		err = process.Start()
	})
	if ttyErr != nil {
		dbp.release()
		return nil, ttyErr
	}
	if err != nil {
		dbp.release()
		var perr *os.PathError
		if errors.As(err, &perr) && perr.Op == "fork/exec" && !isForkError(err) {
			return nil, &proc.LaunchError{Path: cmd[0], Err: perr.Err}
		}
		return nil, err
	}
	dbp.pid = process.Process.Pid
	dbp.childProcess = true
	dbp.log = dbp.log.WithField("pid", dbp.pid)
	dbp.log.Debugf("started %q", cmd)

	ws, err := dbp.Wait()
	if err != nil {
		dbp.release()
		return nil, fmt.Errorf("waiting for target execve failed: %v", err)
	}
	if !ws.Stopped() {
		// postExit has already run.
		return nil, proc.ErrProcessExited{Pid: dbp.pid, Status: ws.ExitStatus()}
	}
	dbp.log.Debugf("initial stop %v", ws.StopSignal())
	return dbp, nil
}

// isForkError returns true for errors that prevented the child from being
// created at all, as opposed to errors of the execve inside the child.
func isForkError(err error) bool {
	return errors.Is(err, sys.EAGAIN) || errors.Is(err, sys.ENOMEM) || errors.Is(err, sys.ENOSYS)
}

// Resume continues the stopped process delivering sig.
func (dbp *Process) Resume(sig sys.Signal) (err error) {
	if dbp.exited {
		return proc.ErrProcessExited{Pid: dbp.pid}
	}
	if dbp.detached {
		return proc.ProcessDetachedError{}
	}
	dbp.execPtraceFunc(func() { err = ptraceCont(dbp.pid, int(sig)) })
	if logflags.Ptrace() {
		dbp.log.Debugf("PTRACE_CONT sig=%d err=%v", sig, err)
	}
	return err
}

// Wait blocks until the process changes state. Once the process has
// exited or was killed no other request can be made.
func (dbp *Process) Wait() (sys.WaitStatus, error) {
	var status sys.WaitStatus
	for {
		_, err := sys.Wait4(dbp.pid, &status, 0, nil)
		if err == sys.EINTR {
			continue
		}
		if err != nil {
			return status, err
		}
		break
	}
	if status.Exited() || status.Signaled() {
		dbp.postExit()
	}
	return status, nil
}

// Detach stops tracing the process and lets it continue, delivering sig.
// Detaching from a process that has already exited is a no-op.
func (dbp *Process) Detach(sig sys.Signal) (err error) {
	if dbp.exited || dbp.detached {
		return nil
	}
	dbp.execPtraceFunc(func() { err = ptraceDetach(dbp.pid, int(sig)) })
	if logflags.Ptrace() {
		dbp.log.Debugf("PTRACE_DETACH sig=%d err=%v", sig, err)
	}
	if err == sys.ESRCH {
		// the process died between the last wait and now
		err = nil
	}
	dbp.detached = true
	dbp.release()
	return err
}
