package proc

import (
	"context"
	"fmt"

	sys "golang.org/x/sys/unix"

	"github.com/buildfail/ich/pkg/logflags"
)

// Process is a traced process that is currently stopped and can be
// resumed.
type Process interface {
	Pid() int
	// Resume continues the process delivering sig, 0 delivers nothing.
	Resume(sig sys.Signal) error
	// Wait blocks until the process changes state.
	Wait() (sys.WaitStatus, error)
}

// Monitor resumes a traced process until it exits, crashes or is killed.
type Monitor struct {
	// CrashSignals are the stop signals classified as a crash.
	CrashSignals []sys.Signal
	// ForwardSignals makes the monitor deliver the signal of an unknown
	// stop when resuming, otherwise the signal is discarded.
	ForwardSignals bool
}

// Run resumes p and waits for it until a terminal outcome is observed or
// ctx is done. The process must be stopped when Run is called. Cancellation
// is checked once per iteration, before resuming, and never interrupts a
// wait in progress: when ctx.Err() is returned the process is stopped and
// the returned Stop is the last stop observed.
func (m *Monitor) Run(ctx context.Context, p Process) (Stop, error) {
	log := logflags.MonitorLogger().WithField("pid", p.Pid())
	var (
		last Stop
		sig  sys.Signal
	)
	for {
		if err := ctx.Err(); err != nil {
			log.Debugf("monitor canceled: %v", err)
			return last, err
		}
		if err := p.Resume(sig); err != nil {
			return last, fmt.Errorf("could not resume process %d: %w", p.Pid(), err)
		}
		ws, err := p.Wait()
		if err != nil {
			return last, fmt.Errorf("waiting for process %d failed: %w", p.Pid(), err)
		}
		last = StopFromStatus(ws, m.CrashSignals)
		if logflags.Monitor() {
			log.Debugf("stop event: %s (status %#x)", last, uint32(ws))
		}
		if last.Outcome.Terminal() {
			return last, nil
		}
		sig = 0
		if m.ForwardSignals && Forwardable(last.Signal) {
			sig = last.Signal
		}
	}
}

// Forwardable returns true if sig can be delivered back to the target.
// SIGTRAP and SIGSTOP stops are produced by the tracing itself.
func Forwardable(sig sys.Signal) bool {
	switch sig {
	case 0, sys.SIGTRAP, sys.SIGSTOP:
		return false
	}
	return true
}
