// Package crash produces the crash dump of a traced process stopped on a
// fault: its registers, the memory they point to and the base address of
// the image containing the instruction pointer.
package crash

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/buildfail/ich/pkg/logflags"
	"github.com/buildfail/ich/pkg/proc"
)

// ELFMagic is "\x7fELF" read as a little endian 32 bit word.
const ELFMagic = 0x464c457f

// ErrImageBaseNotFound is returned when the scan gives up before finding an
// image header.
var ErrImageBaseNotFound = errors.New("image base not found")

// Target is a process stopped on a crash.
type Target interface {
	Registers() (*proc.AMD64PtraceRegs, error)
	proc.MemoryReader
}

// FindImageBase walks memory backwards one page at a time, starting at the
// page containing addr, and returns the first page whose first 32 bits are
// the ELF magic. The scan stops at the first page that can not be read or
// after maxPages pages, maxPages <= 0 means no limit.
func FindImageBase(mem proc.MemoryReader, addr, pageSize uint64, maxPages int) (uint64, error) {
	if pageSize == 0 || pageSize&(pageSize-1) != 0 {
		return 0, fmt.Errorf("invalid page size %d", pageSize)
	}
	var word [8]byte
	page := addr &^ (pageSize - 1)
	for i := 0; maxPages <= 0 || i < maxPages; i++ {
		if _, err := mem.ReadMemory(word[:], page); err != nil {
			return 0, err
		}
		if binary.LittleEndian.Uint64(word[:])&0xffffffff == ELFMagic {
			return page, nil
		}
		if page < pageSize {
			break
		}
		page -= pageSize
	}
	return 0, ErrImageBaseNotFound
}

// Inspector writes crash dumps.
type Inspector struct {
	// PageSize of the target, os.Getpagesize() if zero.
	PageSize uint64
	// MaxScanPages bounds FindImageBase, zero means no limit.
	MaxScanPages int
	// Color is the ANSI foreground color of register names, zero disables
	// colors.
	Color int
	// CachedPages is the number of pages the dump keeps in memory, zero
	// disables the cache.
	CachedPages int
}

// Dump writes the crash dump of t to w. Failing reads of the target only
// degrade the corresponding part of the dump to "unavailable", the error
// returned is the first error writing to w.
func (in *Inspector) Dump(w io.Writer, t Target) error {
	log := logflags.InspectorLogger()
	out := &dumpWriter{w: w}

	pageSize := in.PageSize
	if pageSize == 0 {
		pageSize = uint64(os.Getpagesize())
	}

	regs, err := t.Registers()
	if err != nil {
		log.Errorf("%v", err)
		in.dumpUnavailable(out)
		return out.err
	}

	// The scan reads one word per page, only the windows go through the
	// cache.
	base, err := FindImageBase(t, regs.PC(), pageSize, in.MaxScanPages)
	if err != nil {
		if logflags.Inspector() {
			log.Debugf("image base of %#x not resolved: %v", regs.PC(), err)
		}
		out.printf("ELF base address: unavailable\n\n")
	} else {
		out.printf("ELF base address: %016x\n\n", base)
	}

	var mem proc.MemoryReader = t
	if in.CachedPages > 0 {
		if cached, err := proc.NewPageCache(t, pageSize, in.CachedPages); err == nil {
			mem = cached
		} else if logflags.Inspector() {
			log.Debugf("page cache disabled: %v", err)
		}
	}

	for _, reg := range regs.GeneralPurpose() {
		out.printf("%s: %016x", in.colorize(fmt.Sprintf("%-7s", reg.Name)), reg.Value)
		win, err := ReadWindow(mem, reg.Value)
		if err != nil && logflags.Inspector() {
			log.Debugf("%s: %v", reg.Name, err)
		}
		out.printf("%s\n", win)
	}

	out.printf("\n%s: %016x\n", in.colorize("eflags "), regs.Eflags)
	for i, seg := range regs.Segments() {
		if i > 0 {
			out.printf(" ")
		}
		out.printf("%s: %04x", in.colorize(seg.Name), seg.Value)
	}
	out.printf("\n")
	return out.err
}

// dumpUnavailable writes the dump layout with every value unavailable.
func (in *Inspector) dumpUnavailable(out *dumpWriter) {
	var zero proc.AMD64PtraceRegs
	out.printf("ELF base address: unavailable\n\n")
	for _, reg := range zero.GeneralPurpose() {
		out.printf("%s: unavailable\n", in.colorize(fmt.Sprintf("%-7s", reg.Name)))
	}
	out.printf("\n%s: unavailable\n", in.colorize("eflags "))
	for i, seg := range zero.Segments() {
		if i > 0 {
			out.printf(" ")
		}
		out.printf("%s: unavailable", in.colorize(seg.Name))
	}
	out.printf("\n")
}

func (in *Inspector) colorize(s string) string {
	if in.Color == 0 {
		return s
	}
	return fmt.Sprintf("\x1b[%dm%s\x1b[0m", in.Color, s)
}

// dumpWriter remembers the first write error and drops everything after it.
type dumpWriter struct {
	w   io.Writer
	err error
}

func (d *dumpWriter) printf(format string, args ...interface{}) {
	if d.err != nil {
		return
	}
	_, d.err = fmt.Fprintf(d.w, format, args...)
}
