// Package harness ties the pieces of a triage run together: it drops the
// instrumentation library, launches the target under ptrace, monitors it
// and dumps its state if it crashes.
package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	sys "golang.org/x/sys/unix"

	"github.com/buildfail/ich/pkg/config"
	"github.com/buildfail/ich/pkg/crash"
	"github.com/buildfail/ich/pkg/logflags"
	"github.com/buildfail/ich/pkg/payload"
	"github.com/buildfail/ich/pkg/proc"
	"github.com/buildfail/ich/pkg/proc/native"
)

// dumpCachePages is the number of pages kept by the page cache of a dump.
const dumpCachePages = 64

// Options configures a run.
type Options struct {
	Config *config.Config
	// Argv is the target command, Argv[0] is passed unmodified to execve.
	Argv []string
	// Out receives the crash dump.
	Out io.Writer
	// Color enables colored register names in the crash dump.
	Color bool
}

// tracee is a launched and stopped target.
type tracee interface {
	proc.Process
	crash.Target
	Detach(sig sys.Signal) error
}

var launch = func(argv []string, opts native.LaunchOptions) (tracee, error) {
	p, err := native.Launch(argv, opts)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Run performs one triage run of opts.Argv. Failing to execute the target
// image and cancellation of ctx are not errors: the target is reported as
// exited, or detached from, and Run returns nil.
func Run(ctx context.Context, opts Options) error {
	if len(opts.Argv) == 0 {
		return errors.New("no command to run")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	crashSignals, err := cfg.Signals()
	if err != nil {
		return err
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	log := logflags.HarnessLogger()

	source := cfg.PayloadSource
	if source == "" {
		source = config.DefaultPayloadSource()
	}
	lib, err := payload.Load(source)
	if err != nil {
		return err
	}
	log.Infof("Dropping instrumentation library to %s ...", cfg.PayloadPath)
	if err := payload.Install(cfg.PayloadPath, lib); err != nil {
		return err
	}

	log.Infof("Setting up the environment: %s=%s", cfg.PreloadVariable, cfg.PayloadPath)
	log.Infof("Executing process (%s) ...", opts.Argv[0])
	p, err := launch(opts.Argv, native.LaunchOptions{
		PreloadVariable: cfg.PreloadVariable,
		PreloadPath:     cfg.PayloadPath,
		TTY:             cfg.TTY,
	})
	if err != nil {
		var lerr *proc.LaunchError
		var perr proc.ErrProcessExited
		switch {
		case errors.As(err, &lerr):
			log.Errorf("Failed to execute binary: %v", lerr.Err)
		case errors.As(err, &perr):
			log.Debugf("process %d exited before its first instruction", perr.Pid)
		default:
			return fmt.Errorf("could not launch %s: %w", opts.Argv[0], err)
		}
		log.Info("Process has exited")
		return nil
	}
	log = log.WithField("pid", p.Pid())

	m := &proc.Monitor{CrashSignals: crashSignals, ForwardSignals: *cfg.ForwardSignals}
	stop, err := m.Run(ctx, p)
	if err != nil {
		var sig sys.Signal
		if m.ForwardSignals && proc.Forwardable(stop.Signal) {
			sig = stop.Signal
		}
		if derr := p.Detach(sig); derr != nil {
			log.Warnf("could not detach: %v", derr)
		}
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			log.Infof("Interrupted, detached from process")
			return nil
		}
		return err
	}

	switch stop.Outcome {
	case proc.OutcomeCrashed:
		log.Infof("Process has crashed with %s", sys.SignalName(stop.Signal))
		in := &crash.Inspector{
			MaxScanPages: *cfg.MaxScanPages,
			CachedPages:  dumpCachePages,
		}
		if opts.Color {
			in.Color = *cfg.RegisterColor
		}
		if err := in.Dump(out, p); err != nil {
			log.Warnf("could not write crash dump: %v", err)
		}
		// Let the target die of the crash it was stopped on.
		if err := p.Detach(stop.Signal); err != nil {
			log.Warnf("could not detach: %v", err)
		}
	case proc.OutcomeExited:
		if logflags.Harness() {
			log.Debugf("exit status %d", stop.ExitStatus)
		}
		log.Info("Process has exited")
	case proc.OutcomeKilled:
		log.Infof("Process was killed by %s", sys.SignalName(stop.Signal))
	}
	return nil
}
