package testutil

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var (
	alwaysEqual       = cmp.Comparer(func(_, _ interface{}) bool { return true })
	defaultCmpOptions = []cmp.Option{
		// NaNs compare equal
		cmp.FilterValues(func(x, y float64) bool {
			return math.IsNaN(x) && math.IsNaN(y)
		}, alwaysEqual),
	}
)

func Diff(a, b interface{}, opts ...cmp.Option) string {
	opts = append(opts, defaultCmpOptions...)
	return cmp.Diff(a, b, opts...)
}

// WaitFor polls cond until it returns true or timeout elapses, in which case
// the test fails with msg.
func WaitFor(t testing.TB, timeout time.Duration, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out after %v: %s", timeout, msg)
		}
		time.Sleep(100 * time.Microsecond)
	}
}

// MustPanic runs fn and returns the recovered value, failing the test if fn
// returns normally.
func MustPanic(t testing.TB, fn func()) (v interface{}) {
	t.Helper()
	defer func() {
		v = recover()
		if v == nil {
			t.Fatal("expected a panic")
		}
	}()
	fn()
	return nil
}
