//go:build unix && !(linux && amd64)

package native

import (
	"errors"

	sys "golang.org/x/sys/unix"

	"github.com/buildfail/ich/pkg/proc"
)

// ErrNativeBackendDisabled is returned on platforms without a tracing
// backend.
var ErrNativeBackendDisabled = errors.New("native backend disabled, only linux/amd64 targets are supported")

// LaunchOptions configures how the traced child is started.
type LaunchOptions struct {
	PreloadVariable string
	PreloadPath     string
	TTY             string
}

// Launch returns ErrNativeBackendDisabled.
func Launch(cmd []string, opts LaunchOptions) (*Process, error) {
	return nil, ErrNativeBackendDisabled
}

// Resume returns ErrNativeBackendDisabled.
func (dbp *Process) Resume(sig sys.Signal) error {
	return ErrNativeBackendDisabled
}

// Wait returns ErrNativeBackendDisabled.
func (dbp *Process) Wait() (sys.WaitStatus, error) {
	return 0, ErrNativeBackendDisabled
}

// Detach returns ErrNativeBackendDisabled.
func (dbp *Process) Detach(sig sys.Signal) error {
	return ErrNativeBackendDisabled
}

// Registers returns ErrNativeBackendDisabled.
func (dbp *Process) Registers() (*proc.AMD64PtraceRegs, error) {
	return nil, ErrNativeBackendDisabled
}

// ReadMemory returns ErrNativeBackendDisabled.
func (dbp *Process) ReadMemory(buf []byte, addr uint64) (int, error) {
	return 0, ErrNativeBackendDisabled
}
