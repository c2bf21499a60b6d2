package timeutil

import (
	"runtime"
	"strconv"
	"time"
)

const nanosecondsPerSecond = 1_000_000_000

// Stamp is a point on the monotonic clock, in nanoseconds. Stamps are offset
// by the wall clock time of process start so they read as unix nanoseconds,
// but they never go backwards. The zero Stamp means "unset".
type Stamp uint64

var (
	epoch     = time.Now()
	epochNano = uint64(epoch.UnixNano())
)

// Now returns the current monotonic time.
func Now() Stamp {
	return Stamp(epochNano + uint64(time.Since(epoch)))
}

func FromNanoseconds(ns uint64) Stamp {
	return Stamp(ns)
}

func FromMicroseconds(us uint64) Stamp {
	return FromNanoseconds(us * 1000)
}

func FromMilliseconds(ms uint64) Stamp {
	return FromMicroseconds(ms * 1000)
}

func FromSeconds(s uint64) Stamp {
	return FromMilliseconds(s * 1000)
}

func FromDuration(d time.Duration) Stamp {
	if d < 0 {
		return 0
	}
	return Stamp(d)
}

// Sub returns s-o, saturating at zero instead of wrapping around.
func (s Stamp) Sub(o Stamp) Stamp {
	if s > o {
		return s - o
	}
	return 0
}

func (s Stamp) Add(o Stamp) Stamp {
	return s + o
}

func (s Stamp) Before(o Stamp) bool {
	return s < o
}

func (s Stamp) After(o Stamp) bool {
	return s > o
}

func (s Stamp) IsZero() bool {
	return s == 0
}

func (s Stamp) Nanoseconds() uint64 {
	return uint64(s)
}

func (s Stamp) Microseconds() uint64 {
	return uint64(s) / 1000
}

// Duration interprets s as an elapsed time.
func (s Stamp) Duration() time.Duration {
	return time.Duration(s)
}

func (s Stamp) String() string {
	return strconv.FormatUint(uint64(s), 10) + "ns"
}

// SleepUntil busy-waits until target is reached. time.Sleep overshoots by
// tens of microseconds on most kernels, which is too coarse for sub
// millisecond sampling intervals.
func SleepUntil(target Stamp) {
	if target.IsZero() {
		return
	}
	for target.After(Now()) {
		runtime.Gosched()
	}
}
