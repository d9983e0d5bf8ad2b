//go:build linux && amd64

package native

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"testing"

	"github.com/creack/pty"
	sys "golang.org/x/sys/unix"

	"github.com/buildfail/ich/pkg/proc"
)

func lookPath(t *testing.T, name string) string {
	t.Helper()
	path, err := exec.LookPath(name)
	if err != nil {
		t.Skipf("%s not available: %v", name, err)
	}
	return path
}

// launch starts cmd skipping the test if the environment does not allow
// tracing.
func launch(t *testing.T, cmd []string, opts LaunchOptions) *Process {
	t.Helper()
	p, err := Launch(cmd, opts)
	if errors.Is(err, sys.EPERM) || errors.Is(err, sys.ENOSYS) {
		t.Skipf("ptrace not permitted: %v", err)
	}
	if err != nil {
		t.Fatalf("launch %q: %v", cmd, err)
	}
	return p
}

func monitor(t *testing.T, p *Process) proc.Stop {
	t.Helper()
	m := &proc.Monitor{CrashSignals: []sys.Signal{sys.SIGSEGV}, ForwardSignals: true}
	stop, err := m.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("monitor: %v", err)
	}
	return stop
}

func TestLaunchExit(t *testing.T) {
	p := launch(t, []string{lookPath(t, "true")}, LaunchOptions{})
	stop := monitor(t, p)
	if stop.Outcome != proc.OutcomeExited || stop.ExitStatus != 0 {
		t.Fatalf("expected a clean exit, got %v", stop)
	}
	if !p.exited {
		t.Fatal("process not marked as exited")
	}
	if err := p.Detach(0); err != nil {
		t.Fatalf("detach after exit: %v", err)
	}
	if _, err := p.Registers(); err == nil {
		t.Fatal("register read succeeded on an exited process")
	}
}

func TestLaunchCrash(t *testing.T) {
	sh := lookPath(t, "sh")
	p := launch(t, []string{sh, "-c", "kill -SEGV $$"}, LaunchOptions{})
	stop := monitor(t, p)
	if stop.Outcome != proc.OutcomeCrashed || stop.Signal != sys.SIGSEGV {
		t.Fatalf("expected a crash, got %v", stop)
	}

	regs, err := p.Registers()
	if err != nil {
		t.Fatal(err)
	}
	if regs.PC() == 0 || regs.Rsp == 0 {
		t.Fatalf("implausible registers %#v", regs)
	}

	buf := make([]byte, 16)
	if n, err := p.ReadMemory(buf, regs.PC()); err != nil || n != len(buf) {
		t.Fatalf("could not read at rip: %d %v", n, err)
	}
	_, err = p.ReadMemory(buf, 0)
	var rerr *proc.ReadError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected a *proc.ReadError reading address 0, got %v", err)
	}

	if err := p.Detach(stop.Signal); err != nil {
		t.Fatal(err)
	}
	var ws sys.WaitStatus
	if _, err := sys.Wait4(p.Pid(), &ws, 0, nil); err != nil {
		t.Fatal(err)
	}
	if !ws.Signaled() || ws.Signal() != sys.SIGSEGV {
		t.Fatalf("expected the target to die of SIGSEGV after detach, got %#x", uint32(ws))
	}
}

func TestLaunchNonexistent(t *testing.T) {
	_, err := Launch([]string{"/nonexistent/ich-target"}, LaunchOptions{})
	if errors.Is(err, sys.EPERM) {
		t.Skipf("ptrace not permitted: %v", err)
	}
	var lerr *proc.LaunchError
	if !errors.As(err, &lerr) {
		t.Fatalf("expected *proc.LaunchError, got %T %v", err, err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected ENOENT, got %v", lerr.Err)
	}
}

func TestLaunchEnvironment(t *testing.T) {
	sh := lookPath(t, "sh")
	opts := LaunchOptions{PreloadVariable: "ICH_TEST_PRELOAD", PreloadPath: "/tmp/libtest.so"}
	p := launch(t, []string{sh, "-c", `test "$ICH_TEST_PRELOAD" = /tmp/libtest.so`}, opts)
	stop := monitor(t, p)
	if stop.Outcome != proc.OutcomeExited || stop.ExitStatus != 0 {
		t.Fatalf("preload variable not set in the child: %v", stop)
	}
}

func TestLaunchArgsUnmodified(t *testing.T) {
	sh := lookPath(t, "sh")
	p := launch(t, []string{sh, "-c", `test "$0:$1" = "-x:--flag"`, "-x", "--flag"}, LaunchOptions{})
	stop := monitor(t, p)
	if stop.Outcome != proc.OutcomeExited || stop.ExitStatus != 0 {
		t.Fatalf("arguments were altered: %v", stop)
	}
}

func TestLaunchWithTTY(t *testing.T) {
	ptmx, tty, err := pty.Open()
	if err != nil {
		t.Skipf("no pty available: %v", err)
	}
	defer ptmx.Close()
	defer tty.Close()

	sh := lookPath(t, "sh")
	p := launch(t, []string{sh, "-c", "test -t 0 && echo on-tty"}, LaunchOptions{TTY: tty.Name()})
	stop := monitor(t, p)
	if stop.Outcome != proc.OutcomeExited || stop.ExitStatus != 0 {
		t.Fatalf("expected stdin to be a terminal: %v", stop)
	}
	buf := make([]byte, 64)
	n, _ := ptmx.Read(buf)
	if !bytes.Contains(buf[:n], []byte("on-tty")) {
		t.Fatalf("unexpected terminal output %q", buf[:n])
	}
}

func TestLaunchTTYNotATerminal(t *testing.T) {
	_, err := Launch([]string{lookPath(t, "true")}, LaunchOptions{TTY: os.DevNull})
	if err == nil || !strings.Contains(err.Error(), "is not a terminal") {
		t.Fatalf("expected a not a terminal error, got %v", err)
	}
}

func TestPeekFallback(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want bool
	}{
		{nil, false},
		{sys.ENOSYS, true},
		{sys.EPERM, true},
		{sys.EFAULT, true},
		{sys.ESRCH, false},
		{sys.EIO, false},
	} {
		if got := peekFallback(tc.err); got != tc.want {
			t.Fatalf("%v: expected %v, got %v", tc.err, tc.want, got)
		}
	}
}
