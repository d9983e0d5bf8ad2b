// Package payload drops the instrumentation library on disk so that it can
// be preloaded into the traced process.
package payload

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/buildfail/ich/pkg/logflags"
)

// Mode is the permission set of the installed library.
const Mode os.FileMode = 0700

// ErrNoProgress is returned when a write reports zero bytes written and no
// error.
var ErrNoProgress = errors.New("write made no progress")

// InstallError is returned when the payload can not be written to its
// destination.
type InstallError struct {
	Path string
	Op   string
	Err  error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("could not install payload to %s: %s: %v", e.Path, e.Op, e.Err)
}

func (e *InstallError) Unwrap() error { return e.Err }

// Load reads the library bytes from path.
func Load(path string) ([]byte, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, &InstallError{Path: path, Op: "read source", Err: err}
	}
	return buf, nil
}

// Install writes buf to path, truncating any previous content, and makes the
// result executable by its owner. Concurrent installs to the same path are
// not supported.
func Install(path string, buf []byte) error {
	log := logflags.PayloadLogger()
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, Mode)
	if err != nil {
		return &InstallError{Path: path, Op: "open", Err: err}
	}
	n, err := writeAll(f, buf)
	if logflags.Payload() {
		log.Debugf("wrote %d of %d bytes to %s", n, len(buf), path)
	}
	if err != nil {
		f.Close()
		return &InstallError{Path: path, Op: "write", Err: err}
	}
	if err := f.Close(); err != nil {
		return &InstallError{Path: path, Op: "close", Err: err}
	}
	// OpenFile only applies the mode on creation and through the umask.
	if err := os.Chmod(path, Mode); err != nil {
		return &InstallError{Path: path, Op: "chmod", Err: err}
	}
	return nil
}

// writeAll writes buf to w retrying short writes until either everything
// is written or a write stops making progress.
func writeAll(w io.Writer, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := w.Write(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, ErrNoProgress
		}
	}
	return total, nil
}
