package errorutil

import (
	"errors"
	"fmt"
)

// ErrUsage is the base error for API misuse: the call is rejected and the
// profiler state is left untouched.
var ErrUsage = errors.New("usage error")

// ErrInvalidArgument is the base error for rejected constructor arguments.
var ErrInvalidArgument = errors.New("invalid argument")

var (
	ErrAlreadyRunning  = fmt.Errorf("%w: already running", ErrUsage)
	ErrNotRunning      = fmt.Errorf("%w: collector not running", ErrUsage)
	ErrManualSampling  = fmt.Errorf("%w: collector doesn't support manual sampling", ErrUsage)
	ErrInvalidMode     = fmt.Errorf("%w: invalid mode", ErrInvalidArgument)
	ErrInvalidInterval = fmt.Errorf("%w: invalid interval", ErrInvalidArgument)
)

// ErrInvariant marks a profiler bug. Values wrapping it are only ever
// panicked, never returned.
var ErrInvariant = errors.New("profiler invariant violated")

// ErrResource marks a failure of an operating system facility the profiler
// depends on (signal delivery, handler completion).
var ErrResource = errors.New("os resource failure")

// Invariant panics with an error wrapping ErrInvariant.
func Invariant(format string, args ...interface{}) {
	panic(fmt.Errorf("%w: %s", ErrInvariant, fmt.Sprintf(format, args...)))
}
