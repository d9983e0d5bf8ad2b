// Package proc holds the platform independent side of process tracing:
// the classification of wait statuses, the execution monitor loop, the
// register snapshot layout and the memory reader abstractions used by the
// crash inspector.
//
// The operating system specific backend lives in pkg/proc/native.
package proc
