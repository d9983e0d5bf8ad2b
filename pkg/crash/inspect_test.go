package crash

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	sys "golang.org/x/sys/unix"

	"github.com/buildfail/ich/pkg/proc"
)

const testPageSize = 0x1000

// fakeTarget serves memory out of a set of mapped pages.
type fakeTarget struct {
	regs    *proc.AMD64PtraceRegs
	regsErr error
	pages   map[uint64][]byte
	reads   int

	// sizes records the length of every read by address.
	sizes map[uint64][]int
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{regs: &proc.AMD64PtraceRegs{}, pages: map[uint64][]byte{}, sizes: map[uint64][]int{}}
}

func (t *fakeTarget) mapPage(addr uint64) []byte {
	p := make([]byte, testPageSize)
	t.pages[addr&^(testPageSize-1)] = p
	return p
}

func (t *fakeTarget) mapImage(base uint64) {
	copy(t.mapPage(base), "\x7fELF\x02\x01\x01\x00")
}

func (t *fakeTarget) Registers() (*proc.AMD64PtraceRegs, error) {
	if t.regsErr != nil {
		return nil, t.regsErr
	}
	return t.regs, nil
}

func (t *fakeTarget) ReadMemory(buf []byte, addr uint64) (int, error) {
	t.reads++
	t.sizes[addr] = append(t.sizes[addr], len(buf))
	n := 0
	for n < len(buf) {
		cur := addr + uint64(n)
		p, ok := t.pages[cur&^(testPageSize-1)]
		if !ok {
			return n, &proc.ReadError{What: "memory", Addr: addr, Len: len(buf), Err: sys.EIO}
		}
		n += copy(buf[n:], p[cur&(testPageSize-1):])
	}
	return n, nil
}

func TestFindImageBase(t *testing.T) {
	tgt := newFakeTarget()
	tgt.mapImage(0x400000)
	for addr := uint64(0x401000); addr <= 0x404000; addr += testPageSize {
		tgt.mapPage(addr)
	}

	for _, rip := range []uint64{0x400000, 0x400123, 0x403fff, 0x404010} {
		base, err := FindImageBase(tgt, rip, testPageSize, 0)
		if err != nil {
			t.Fatalf("%#x: %v", rip, err)
		}
		if base != 0x400000 {
			t.Fatalf("%#x: expected base 0x400000, got %#x", rip, base)
		}
	}
}

func TestFindImageBaseOnlyLowWordCompared(t *testing.T) {
	tgt := newFakeTarget()
	p := tgt.mapPage(0x7000)
	copy(p, "\x7fELF\x01\x02\x01\x00")
	base, err := FindImageBase(tgt, 0x7010, testPageSize, 0)
	if err != nil || base != 0x7000 {
		t.Fatalf("expected 0x7000, got %#x %v", base, err)
	}
}

func TestFindImageBaseUnmapped(t *testing.T) {
	tgt := newFakeTarget()
	tgt.mapImage(0x400000)
	tgt.mapPage(0x402000)

	_, err := FindImageBase(tgt, 0x402100, testPageSize, 0)
	var rerr *proc.ReadError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected a read error, got %v", err)
	}
	if tgt.reads != 2 {
		t.Fatalf("scan should stop at the first unreadable page, got %d reads", tgt.reads)
	}
}

func TestFindImageBaseBound(t *testing.T) {
	tgt := newFakeTarget()
	tgt.mapImage(0x400000)
	for addr := uint64(0x401000); addr <= 0x410000; addr += testPageSize {
		tgt.mapPage(addr)
	}
	if _, err := FindImageBase(tgt, 0x410000, testPageSize, 4); !errors.Is(err, ErrImageBaseNotFound) {
		t.Fatalf("expected ErrImageBaseNotFound, got %v", err)
	}
	if tgt.reads != 4 {
		t.Fatalf("expected 4 reads, got %d", tgt.reads)
	}
	base, err := FindImageBase(tgt, 0x410000, testPageSize, 17)
	if err != nil || base != 0x400000 {
		t.Fatalf("expected 0x400000 within 17 pages, got %#x %v", base, err)
	}
}

func TestFindImageBaseZeroPage(t *testing.T) {
	tgt := newFakeTarget()
	tgt.mapPage(0)
	if _, err := FindImageBase(tgt, 0x10, testPageSize, 0); !errors.Is(err, ErrImageBaseNotFound) {
		t.Fatalf("expected ErrImageBaseNotFound, got %v", err)
	}
}

func TestReadWindow(t *testing.T) {
	tgt := newFakeTarget()
	p := tgt.mapPage(0x1000)
	copy(p[0x10:], "Hello, World!\x00\x01\xff")

	w, err := ReadWindow(tgt, 0x1010)
	if err != nil {
		t.Fatal(err)
	}
	const want = " -> 48 65 6c 6c 6f 2c 20 57 6f 72 6c 64 21 00 01 ff     Hello, World!..."
	if w.String() != want {
		t.Fatalf("expected\n%q\ngot\n%q", want, w.String())
	}

	// The window crosses into an unmapped page.
	if w, err := ReadWindow(tgt, 0x1ff8); err == nil || w != nil {
		t.Fatalf("expected an absent window, got %v %v", w, err)
	}
	if w, _ := ReadWindow(tgt, 0); w.String() != "" {
		t.Fatalf("absent window should render empty, got %q", w.String())
	}
}

func TestDump(t *testing.T) {
	tgt := newFakeTarget()
	tgt.mapImage(0x555555554000)
	text := tgt.mapPage(0x555555555000)
	copy(text[0x129:], []byte{0xc7, 0x00, 0x2a, 0x00, 0x00, 0x00, 0xb8, 0x00, 0x00, 0x00, 0x00, 0x5d, 0xc3, 0x0f, 0x1f, 0x00})
	stack := tgt.mapPage(0x7ffffffde000)
	copy(stack[0xf00:], "AAAAAAAABBBBBBBB")

	tgt.regs.Rip = 0x555555555129
	tgt.regs.Rsp = 0x7ffffffdef00
	tgt.regs.Rbp = 0x7ffffffdef00
	tgt.regs.R15 = 0xdeadbeef
	tgt.regs.Eflags = 0x10246
	tgt.regs.Ss = 0x2b
	tgt.regs.Cs = 0x33
	tgt.regs.Gs = 0xabcd0000

	var out bytes.Buffer
	in := &Inspector{PageSize: testPageSize, CachedPages: 8}
	if err := in.Dump(&out, tgt); err != nil {
		t.Fatal(err)
	}

	zero := "0000000000000000"
	want := "ELF base address: 0000555555554000\n\n" +
		"rax    : " + zero + "\n" +
		"rbx    : " + zero + "\n" +
		"rcx    : " + zero + "\n" +
		"rdx    : " + zero + "\n" +
		"rsp    : 00007ffffffdef00 -> 41 41 41 41 41 41 41 41 42 42 42 42 42 42 42 42     AAAAAAAABBBBBBBB\n" +
		"rbp    : 00007ffffffdef00 -> 41 41 41 41 41 41 41 41 42 42 42 42 42 42 42 42     AAAAAAAABBBBBBBB\n" +
		"rsi    : " + zero + "\n" +
		"rdi    : " + zero + "\n" +
		"rip    : 0000555555555129 -> c7 00 2a 00 00 00 b8 00 00 00 00 5d c3 0f 1f 00     ..*........]....\n" +
		"r8     : " + zero + "\n" +
		"r9     : " + zero + "\n" +
		"r10    : " + zero + "\n" +
		"r11    : " + zero + "\n" +
		"r12    : " + zero + "\n" +
		"r13    : " + zero + "\n" +
		"r14    : " + zero + "\n" +
		"r15    : 00000000deadbeef\n" +
		"\neflags : 0000000000010246\n" +
		"ss: 002b cs: 0033 ds: 0000 gs: 0000 es: 0000 fs: 0000\n"
	if out.String() != want {
		t.Fatalf("unexpected dump\nexpected:\n%s\ngot:\n%s", want, out.String())
	}
	// The image header page is only touched by the scan.
	if sizes := tgt.sizes[0x555555554000]; len(sizes) != 1 || sizes[0] != 8 {
		t.Fatalf("image base scan should read a single word, got reads of %v bytes", sizes)
	}
}

func TestDumpBaseUnavailable(t *testing.T) {
	tgt := newFakeTarget()
	tgt.mapPage(0x601000)
	tgt.regs.Rip = 0x601000

	var out bytes.Buffer
	if err := (&Inspector{PageSize: testPageSize}).Dump(&out, tgt); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "ELF base address: unavailable\n\n") {
		t.Fatalf("unexpected header:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "rip    : 0000000000601000 -> 00 00") {
		t.Fatalf("rip window missing:\n%s", out.String())
	}
	if !strings.HasSuffix(out.String(), "fs: 0000\n") {
		t.Fatalf("dump truncated:\n%s", out.String())
	}
}

func TestDumpRegistersUnavailable(t *testing.T) {
	tgt := newFakeTarget()
	tgt.regsErr = &proc.ReadError{What: "registers", Err: sys.ESRCH}

	var out bytes.Buffer
	if err := (&Inspector{PageSize: testPageSize}).Dump(&out, tgt); err != nil {
		t.Fatal(err)
	}
	const want = "ELF base address: unavailable\n\n" +
		"rax    : unavailable\n" +
		"rbx    : unavailable\n" +
		"rcx    : unavailable\n" +
		"rdx    : unavailable\n" +
		"rsp    : unavailable\n" +
		"rbp    : unavailable\n" +
		"rsi    : unavailable\n" +
		"rdi    : unavailable\n" +
		"rip    : unavailable\n" +
		"r8     : unavailable\n" +
		"r9     : unavailable\n" +
		"r10    : unavailable\n" +
		"r11    : unavailable\n" +
		"r12    : unavailable\n" +
		"r13    : unavailable\n" +
		"r14    : unavailable\n" +
		"r15    : unavailable\n" +
		"\neflags : unavailable\n" +
		"ss: unavailable cs: unavailable ds: unavailable gs: unavailable es: unavailable fs: unavailable\n"
	if out.String() != want {
		t.Fatalf("unexpected dump\nexpected:\n%s\ngot:\n%s", want, out.String())
	}
	if tgt.reads != 0 {
		t.Fatalf("memory read without registers: %d reads", tgt.reads)
	}
}

func TestDumpColor(t *testing.T) {
	tgt := newFakeTarget()
	var out bytes.Buffer
	if err := (&Inspector{PageSize: testPageSize, Color: 34}).Dump(&out, tgt); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "\x1b[34mrax    \x1b[0m: 0000000000000000\n") {
		t.Fatalf("register name not colored:\n%q", out.String())
	}
	if !strings.Contains(out.String(), "\x1b[34mss\x1b[0m: 0000") {
		t.Fatalf("segment name not colored:\n%q", out.String())
	}
}

type failWriter struct{ n int }

func (w *failWriter) Write(p []byte) (int, error) {
	w.n++
	return 0, errors.New("closed")
}

func TestDumpWriteError(t *testing.T) {
	w := &failWriter{}
	if err := (&Inspector{PageSize: testPageSize}).Dump(w, newFakeTarget()); err == nil {
		t.Fatal("expected a write error")
	}
	if w.n != 1 {
		t.Fatalf("writes should stop after the first failure, got %d", w.n)
	}
}
