package native

import (
	"debug/elf"
	"fmt"
	"syscall"
	"unsafe"

	sys "golang.org/x/sys/unix"

	"github.com/buildfail/ich/pkg/proc"
)

// ptraceGetRegset reads the general purpose register set of tid with a
// single PTRACE_GETREGSET request.
func ptraceGetRegset(tid int, regs *proc.AMD64PtraceRegs) error {
	size := uint64(unsafe.Sizeof(*regs))
	iov := sys.Iovec{Base: (*byte)(unsafe.Pointer(regs)), Len: size}
	_, _, err := syscall.Syscall6(syscall.SYS_PTRACE, sys.PTRACE_GETREGSET, uintptr(tid), uintptr(elf.NT_PRSTATUS), uintptr(unsafe.Pointer(&iov)), 0, 0)
	if err != syscall.Errno(0) {
		return err
	}
	if iov.Len != size {
		return fmt.Errorf("register set too short: %d bytes", iov.Len)
	}
	return nil
}

// Registers returns a snapshot of the registers of the stopped process.
func (dbp *Process) Registers() (*proc.AMD64PtraceRegs, error) {
	if dbp.exited {
		return nil, proc.ErrProcessExited{Pid: dbp.pid}
	}
	var (
		regs proc.AMD64PtraceRegs
		err  error
	)
	dbp.execPtraceFunc(func() { err = ptraceGetRegset(dbp.pid, &regs) })
	if err != nil {
		return nil, &proc.ReadError{What: "registers", Err: err}
	}
	return &regs, nil
}
