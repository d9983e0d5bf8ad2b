package proc

import (
	"fmt"

	sys "golang.org/x/sys/unix"
)

// Outcome is the classification of the most recent stop event of the
// traced process.
type Outcome uint8

const (
	// OutcomeUnknown is a stop the monitor does not act on, for example a
	// non fatal signal delivered to the target.
	OutcomeUnknown Outcome = iota
	// OutcomeExited means the target terminated normally.
	OutcomeExited
	// OutcomeCrashed means the target stopped on a crash signal and is
	// still alive, stopped, and inspectable.
	OutcomeCrashed
	// OutcomeKilled means the target was terminated by a signal.
	OutcomeKilled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUnknown:
		return "unknown"
	case OutcomeExited:
		return "exited"
	case OutcomeCrashed:
		return "crashed"
	case OutcomeKilled:
		return "killed"
	}
	return fmt.Sprintf("Outcome(%d)", uint8(o))
}

// Terminal returns true if the monitor loop ends on this outcome.
func (o Outcome) Terminal() bool {
	return o != OutcomeUnknown
}

// Stop describes a stop event of the traced process.
type Stop struct {
	Outcome Outcome
	// Signal is the stop signal for stopped processes and the terminating
	// signal for killed ones.
	Signal sys.Signal
	// ExitStatus is only meaningful for OutcomeExited.
	ExitStatus int
}

func (s Stop) String() string {
	switch s.Outcome {
	case OutcomeExited:
		return fmt.Sprintf("exited with status %d", s.ExitStatus)
	case OutcomeCrashed:
		return fmt.Sprintf("crashed with %s", sys.SignalName(s.Signal))
	case OutcomeKilled:
		return fmt.Sprintf("killed by %s", sys.SignalName(s.Signal))
	}
	if s.Signal != 0 {
		return fmt.Sprintf("stopped by %s", sys.SignalName(s.Signal))
	}
	return "unknown"
}

// Classify maps a wait status to an outcome. A stop on any of crashSignals
// is a crash, anything that is neither a crash nor a termination is
// OutcomeUnknown.
func Classify(ws sys.WaitStatus, crashSignals []sys.Signal) Outcome {
	if ws.Stopped() {
		sig := ws.StopSignal()
		for _, crash := range crashSignals {
			if sig == crash {
				return OutcomeCrashed
			}
		}
	}
	if ws.Exited() {
		return OutcomeExited
	}
	if ws.Signaled() {
		return OutcomeKilled
	}
	return OutcomeUnknown
}

// StopFromStatus builds the Stop for a wait status.
func StopFromStatus(ws sys.WaitStatus, crashSignals []sys.Signal) Stop {
	s := Stop{Outcome: Classify(ws, crashSignals)}
	switch {
	case ws.Stopped():
		s.Signal = ws.StopSignal()
	case ws.Signaled():
		s.Signal = ws.Signal()
	case ws.Exited():
		s.ExitStatus = ws.ExitStatus()
	}
	return s
}
