package crash

import (
	"strings"

	"github.com/buildfail/ich/pkg/proc"
)

// WindowSize is the number of bytes dumped for each register.
const WindowSize = 16

// Window is the memory a register points to. A nil *Window is an absent
// window and renders as an empty string.
type Window struct {
	Addr  uint64
	Bytes [WindowSize]byte
}

// ReadWindow reads WindowSize bytes at addr. Any failure, including a
// partial read, returns a nil window.
func ReadWindow(mem proc.MemoryReader, addr uint64) (*Window, error) {
	w := &Window{Addr: addr}
	n, err := mem.ReadMemory(w.Bytes[:], addr)
	if err != nil {
		return nil, err
	}
	if n != WindowSize {
		return nil, &proc.ReadError{What: "memory", Addr: addr, Len: WindowSize}
	}
	return w, nil
}

func (w *Window) String() string {
	if w == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(" -> ")
	const hex = "0123456789abcdef"
	for _, c := range w.Bytes {
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0xf])
		b.WriteByte(' ')
	}
	b.WriteString("    ")
	for _, c := range w.Bytes {
		if c >= 0x20 && c <= 0x7e {
			b.WriteByte(c)
		} else {
			b.WriteByte('.')
		}
	}
	return b.String()
}
