//go:build linux && amd64

package native

import (
	"io"

	sys "golang.org/x/sys/unix"

	"github.com/buildfail/ich/pkg/proc"
)

// ReadMemory reads len(buf) bytes at addr from the stopped process. A read
// that returns fewer bytes is reported as a *proc.ReadError.
func (dbp *Process) ReadMemory(buf []byte, addr uint64) (n int, err error) {
	if dbp.exited {
		return 0, proc.ErrProcessExited{Pid: dbp.pid}
	}
	if len(buf) == 0 {
		return 0, nil
	}
	dbp.execPtraceFunc(func() {
		n, err = processVmRead(dbp.pid, uintptr(addr), buf)
		if peekFallback(err) {
			n, err = sys.PtracePeekData(dbp.pid, uintptr(addr), buf)
		}
	})
	if err == nil && n < len(buf) {
		err = io.ErrUnexpectedEOF
	}
	if err != nil {
		return n, &proc.ReadError{What: "memory", Addr: addr, Len: len(buf), Err: err}
	}
	return n, nil
}

// peekFallback returns true if a process_vm_readv failure should be
// retried with PTRACE_PEEKDATA. EFAULT is also returned for mapped pages
// without read permission, which PTRACE_PEEKDATA can still read.
func peekFallback(err error) bool {
	switch err {
	case sys.ENOSYS, sys.EPERM, sys.EFAULT:
		return true
	}
	return false
}
