package cmds

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/cosiner/argv"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	sys "golang.org/x/sys/unix"

	"github.com/buildfail/ich/pkg/config"
	"github.com/buildfail/ich/pkg/harness"
	"github.com/buildfail/ich/pkg/logflags"
	"github.com/buildfail/ich/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string

	// configPath overrides the default configuration file.
	configPath string
	// payloadSource is the file the instrumentation library is read from.
	payloadSource string
	// payloadPath is where the instrumentation library is installed.
	payloadPath string
	// tty is used to provide an alternate TTY for the target.
	tty string
	// crashSignals replaces the configured crash signals.
	crashSignals signalList
	// maxScanPages bounds the image base scan.
	maxScanPages int
	// noForwardSignals discards the signals the target receives.
	noForwardSignals bool
	// noColor disables colored register names.
	noColor bool
	// commandLine is the target given as a single string.
	commandLine string
	// buildInfo prints the Go and module versions ich was built with.
	buildInfo bool

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command
)

var errUsage = errors.New("no command to run")

const ichCommandLongDesc = `ich is a crash triage harness.

ich runs a command under ptrace with an instrumentation library preloaded into
it. If the command crashes, ich prints the registers of the faulting process,
the memory each register points to and the load address of the ELF image the
instruction pointer belongs to.

Flags after the command are passed to the command, for example:

` + "`ich --crash-signal SIGABRT ./parser -v input.bin`" + `

The command can also be given as a single string:

` + "`ich --command-line \"./parser -v 'input file.bin'\"`"

const logHelp = `--log enables debug output, --log-output selects the components producing it:

	harness		Progress of the run (default).
	ptrace		Every ptrace request issued to the target.
	monitor		Every stop event of the target and its classification.
	inspector	Failed register and memory reads while dumping.
	payload		Installation of the instrumentation library.

--log-dest redirects the logs to a file path or, if it is a number, to that
file descriptor.`

// New returns an initialized command tree.
func New() *cobra.Command {
	crashSignals = nil

	rootCommand = &cobra.Command{
		Use:     "ich [flags] <command> [args...]",
		Short:   "ich is a crash triage harness.",
		Long:    ichCommandLongDesc + "\n\n" + logHelp,
		Version: version.IchVersion.String(),
		Args:    cobra.ArbitraryArgs,
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(execute(cmd, args))
		},
	}
	rootCommand.SetVersionTemplate("ich crash harness\n{{.Version}}\n")

	flags := rootCommand.Flags()
	// Everything after the target is an argument of the target.
	flags.SetInterspersed(false)

	flags.BoolVarP(&log, "log", "", false, "Enable debug logging (see --log-output).")
	flags.StringVarP(&logOutput, "log-output", "", "", "Comma separated list of components that should produce debug output: harness, ptrace, monitor, inspector, payload.")
	flags.StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor.")

	flags.StringVar(&configPath, "config", "", "Configuration file, defaults to $XDG_CONFIG_HOME/ich/config.yml or ~/.ich/config.yml.")
	flags.StringVar(&payloadSource, "payload", "", "Instrumentation library to preload into the target.")
	flags.StringVar(&payloadPath, "payload-path", config.DefaultPayloadPath, "Absolute path the instrumentation library is installed to.")
	flags.StringVar(&tty, "tty", "", "TTY to use for the target program.")
	flags.Var(&crashSignals, "crash-signal", "Signal reported as a crash, can be repeated (default SIGSEGV).")
	flags.IntVar(&maxScanPages, "max-scan-pages", config.DefaultMaxScanPages, "Maximum number of pages scanned for the image base, 0 means no limit.")
	flags.BoolVar(&noForwardSignals, "no-forward-signals", false, "Discard the signals received by the target instead of delivering them.")
	flags.BoolVar(&noColor, "no-color", false, "Disable colored output.")
	flags.StringVar(&commandLine, "command-line", "", "Command to run as a single shell-like string.")
	flags.BoolVar(&buildInfo, "build-info", false, "Print the Go and module versions ich was built with and exit.")

	return rootCommand
}

func execute(cmd *cobra.Command, args []string) int {
	if buildInfo {
		fmt.Fprintf(cmd.OutOrStdout(), "ich crash harness\n%s\n\n%s", version.IchVersion, version.BuildInfo())
		return 0
	}

	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	target, err := targetArgs(args)
	if err != nil {
		if errors.Is(err, errUsage) {
			cmd.SetOut(os.Stderr)
			cmd.Usage()
		} else {
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}
		return 1
	}

	conf, err := loadConfig(cmd.Flags())
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, sys.SIGTERM)
	defer stop()

	var out io.Writer = os.Stdout
	color := !noColor && isatty.IsTerminal(os.Stdout.Fd())
	if color {
		out = colorable.NewColorableStdout()
	}

	err = harness.Run(ctx, harness.Options{
		Config: conf,
		Argv:   target,
		Out:    out,
		Color:  color,
	})
	if err != nil {
		logflags.HarnessLogger().Errorf("%v", err)
		return 1
	}
	return 0
}

// targetArgs returns the command to run, either the positional arguments
// or the split --command-line.
func targetArgs(args []string) ([]string, error) {
	if commandLine == "" {
		if len(args) == 0 {
			return nil, errUsage
		}
		return args, nil
	}
	if len(args) > 0 {
		return nil, errors.New("--command-line can not be used together with a command")
	}
	v, err := argv.Argv(commandLine,
		func(s string) (string, error) {
			return "", fmt.Errorf("Backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 {
		return nil, fmt.Errorf("illegal command line '%s'", commandLine)
	}
	if len(v[0]) == 0 {
		return nil, errUsage
	}
	return v[0], nil
}

// loadConfig reads the configuration file and applies the flags that were
// set explicitly.
func loadConfig(flags *pflag.FlagSet) (*config.Config, error) {
	var (
		conf *config.Config
		err  error
	)
	if configPath != "" {
		conf, err = config.LoadConfigFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("could not load configuration: %w", err)
		}
	} else {
		conf, err = config.LoadConfig()
		if err != nil {
			logflags.HarnessLogger().Warnf("%v, using the default configuration", err)
		}
	}

	if payloadSource != "" {
		conf.PayloadSource = payloadSource
	}
	if flags.Changed("payload-path") {
		conf.PayloadPath = payloadPath
	}
	if tty != "" {
		conf.TTY = tty
	}
	if len(crashSignals) > 0 {
		conf.CrashSignals = crashSignals
	}
	if flags.Changed("max-scan-pages") {
		conf.MaxScanPages = &maxScanPages
	}
	if noForwardSignals {
		f := false
		conf.ForwardSignals = &f
	}
	return conf, conf.Validate()
}

// signalList is a pflag.Value collecting signal names.
type signalList []string

var _ pflag.Value = (*signalList)(nil)

func (s *signalList) String() string {
	if len(*s) == 0 {
		return ""
	}
	return "[" + strings.Join(*s, ",") + "]"
}

func (s *signalList) Set(v string) error {
	for _, name := range strings.Split(v, ",") {
		sig, err := config.ParseSignal(name)
		if err != nil {
			return err
		}
		n := sys.SignalName(sig)
		if n == "" {
			n = strconv.Itoa(int(sig))
		}
		*s = append(*s, n)
	}
	return nil
}

func (s *signalList) Type() string {
	return "signal"
}
