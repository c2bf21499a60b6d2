//go:build !linux

package simhost

import (
	"github.com/getsentry/vernier/internal/host"
)

func osThreadID() host.NativeThreadID {
	return syntheticThreadID()
}
