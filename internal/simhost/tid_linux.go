//go:build linux

package simhost

import (
	"golang.org/x/sys/unix"

	"github.com/getsentry/vernier/internal/host"
)

// osThreadID must be called with the goroutine locked to its OS thread.
func osThreadID() host.NativeThreadID {
	return host.NativeThreadID(unix.Gettid())
}
