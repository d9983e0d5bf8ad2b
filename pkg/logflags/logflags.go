package logflags

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

var harness = false
var ptrace = false
var monitor = false
var inspector = false
var payload = false

var logOut io.WriteCloser

func makeLogger(level logrus.Level, fields Fields) Logger {
	if lf := loggerFactory; lf != nil {
		return lf(level, fields, logOut)
	}
	logger := logrus.New().WithFields(logrus.Fields(fields))
	logger.Logger.Formatter = textFormatterInstance
	if logOut != nil {
		logger.Logger.Out = logOut
	}
	logger.Logger.Level = level
	return &logrusLogger{logger}
}

// makeFlaggableLogger returns a logger that only emits errors unless flag
// is set, in which case it logs at debug level.
func makeFlaggableLogger(flag bool, fields Fields) Logger {
	if flag {
		return makeLogger(logrus.DebugLevel, fields)
	}
	return makeLogger(logrus.ErrorLevel, fields)
}

// Harness returns true if the harness layer should log debug messages.
func Harness() bool {
	return harness
}

// HarnessLogger returns the logger used for the progress messages shown
// to the user. It always logs at info level, debug messages are shown
// only when the harness layer is enabled.
func HarnessLogger() Logger {
	if harness {
		return makeLogger(logrus.DebugLevel, Fields{"layer": "harness"})
	}
	return makeLogger(logrus.InfoLevel, Fields{"layer": "harness"})
}

// Ptrace returns true if every ptrace request should be logged.
func Ptrace() bool {
	return ptrace
}

// PtraceLogger returns a logger for the native ptrace backend.
func PtraceLogger() Logger {
	return makeFlaggableLogger(ptrace, Fields{"layer": "ptrace"})
}

// Monitor returns true if stop events should be logged.
func Monitor() bool {
	return monitor
}

// MonitorLogger returns a logger for the execution monitor.
func MonitorLogger() Logger {
	return makeFlaggableLogger(monitor, Fields{"layer": "monitor"})
}

// Inspector returns true if the crash inspector should log its reads.
func Inspector() bool {
	return inspector
}

// InspectorLogger returns a logger for the crash inspector.
func InspectorLogger() Logger {
	return makeFlaggableLogger(inspector, Fields{"layer": "inspector"})
}

// Payload returns true if the payload installer should log.
func Payload() bool {
	return payload
}

// PayloadLogger returns a logger for the payload installer.
func PayloadLogger() Logger {
	return makeFlaggableLogger(payload, Fields{"layer": "payload"})
}

// WriteError writes an error message to the log, bypassing the layer
// filters.
func WriteError(msg string) {
	if logOut != nil {
		fmt.Fprintln(logOut, msg)
	} else {
		fmt.Fprintln(os.Stderr, msg)
	}
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets the layer flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	harness, ptrace, monitor, inspector, payload = false, false, false, false, false
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "ich-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			logOut = fh
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(io.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "harness"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		switch logcmd {
		case "harness":
			harness = true
		case "ptrace":
			ptrace = true
		case "monitor":
			monitor = true
		case "inspector":
			inspector = true
		case "payload":
			payload = true
		default:
			fmt.Fprintf(os.Stderr, "Warning: unknown log output value %q, run 'ich --help' for a list of valid values.\n", logcmd)
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
		logOut = nil
	}
}

// textFormatter is a simplified version of logrus.TextFormatter that
// doesn't make logs unreadable when they are output to a text file or to a
// terminal that doesn't support colors.
type textFormatter struct {
}

func (f *textFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b *bytes.Buffer
	if entry.Buffer != nil {
		b = entry.Buffer
	} else {
		b = &bytes.Buffer{}
	}

	fmt.Fprintf(b, "%s %s ", entry.Time.Format(time.RFC3339), strings.ToLower(entry.Level.String()))
	if layer, ok := entry.Data["layer"]; ok {
		fmt.Fprintf(b, "%s ", layer)
	}
	for k, v := range entry.Data {
		if k == "layer" {
			continue
		}
		fmt.Fprintf(b, "%s=%v ", k, v)
	}
	b.WriteString(entry.Message)
	b.WriteByte('\n')
	return b.Bytes(), nil
}

var textFormatterInstance = &textFormatter{}
