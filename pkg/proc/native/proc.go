package native

import (
	"os"
	"runtime"

	"github.com/buildfail/ich/pkg/logflags"
)

// Process represents the traced child. Every ptrace request for it goes
// through a single goroutine locked to its OS thread, see
// handlePtraceFuncs.
type Process struct {
	pid int

	ptraceChan     chan func()
	ptraceDoneChan chan interface{}

	childProcess bool // this process was launched, not attached to
	exited       bool
	detached     bool

	ctty *os.File // terminal the child is attached to, if any

	log logflags.Logger
}

// newProcess returns an initialized Process struct. Before returning,
// it will also launch a goroutine in order to handle ptrace(2)
// functions. For more information, see the documentation on
// `handlePtraceFuncs`.
func newProcess(pid int) *Process {
	dbp := &Process{
		pid:            pid,
		ptraceChan:     make(chan func()),
		ptraceDoneChan: make(chan interface{}),
		log:            logflags.PtraceLogger(),
	}
	go dbp.handlePtraceFuncs()
	return dbp
}

// Pid returns the process ID.
func (dbp *Process) Pid() int {
	return dbp.pid
}

func (dbp *Process) handlePtraceFuncs() {
	// We must ensure here that we are running on the same thread during
	// while invoking the ptrace(2) syscall. This is due to the fact that ptrace(2) expects
	// all commands after PTRACE_ATTACH to come from the same thread.
	runtime.LockOSThread()

	for fn := range dbp.ptraceChan {
		fn()
		dbp.ptraceDoneChan <- nil
	}
}

func (dbp *Process) execPtraceFunc(fn func()) {
	dbp.ptraceChan <- fn
	<-dbp.ptraceDoneChan
}

// release stops the ptrace goroutine, after this no ptrace request can
// be issued.
func (dbp *Process) release() {
	close(dbp.ptraceChan)
	if dbp.ctty != nil {
		dbp.ctty.Close()
		dbp.ctty = nil
	}
}

func (dbp *Process) postExit() {
	if dbp.exited {
		return
	}
	dbp.exited = true
	dbp.release()
}
