package proc

import (
	"fmt"
)

// LaunchError is returned when the target image could not replace the
// forked child. The child has already terminated when this is returned,
// callers treat it like a normal exit of the target.
type LaunchError struct {
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("could not execute %s: %v", e.Path, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// ReadError is returned when the registers or the memory of a stopped
// process can not be read.
type ReadError struct {
	// What is being read, "registers" or "memory".
	What string
	Addr uint64
	Len  int
	Err  error
}

func (e *ReadError) Error() string {
	if e.What == "registers" {
		return fmt.Sprintf("could not read registers: %v", e.Err)
	}
	return fmt.Sprintf("could not read %d bytes at %#x: %v", e.Len, e.Addr, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// ErrProcessExited indicates that the process has exited and contains both
// process id and exit status.
type ErrProcessExited struct {
	Pid    int
	Status int
}

func (pe ErrProcessExited) Error() string {
	return fmt.Sprintf("Process %d has exited with status %d", pe.Pid, pe.Status)
}

// ProcessDetachedError indicates that we detached from the target process.
type ProcessDetachedError struct {
}

func (pe ProcessDetachedError) Error() string {
	return "detached from the process"
}
