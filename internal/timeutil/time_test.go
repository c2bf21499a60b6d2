package timeutil

import (
	"testing"
	"time"

	"github.com/getsentry/vernier/internal/testutil"
)

func TestSubSaturates(t *testing.T) {
	tests := []struct {
		name string
		a    Stamp
		b    Stamp
		want Stamp
	}{
		{name: "positive", a: 10, b: 3, want: 7},
		{name: "equal", a: 5, b: 5, want: 0},
		{name: "underflow", a: 3, b: 10, want: 0},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if diff := testutil.Diff(test.a.Sub(test.b), test.want); diff != "" {
				t.Fatalf("Result mismatch: got - want +\n%s", diff)
			}
		})
	}
}

func TestConversions(t *testing.T) {
	if got := FromSeconds(2); got != Stamp(2*nanosecondsPerSecond) {
		t.Fatalf("wanted 2s, got %v", got)
	}
	if got := FromMilliseconds(3).Microseconds(); got != 3000 {
		t.Fatalf("wanted 3000us, got %d", got)
	}
	if got := FromMicroseconds(500).Duration(); got != 500*time.Microsecond {
		t.Fatalf("wanted 500us, got %v", got)
	}
	if got := FromDuration(-time.Second); !got.IsZero() {
		t.Fatalf("wanted zero stamp, got %v", got)
	}
}

func TestNowIsMonotonic(t *testing.T) {
	a := Now()
	b := Now()
	if b.Before(a) {
		t.Fatalf("clock went backwards: %v then %v", a, b)
	}
	if a.IsZero() {
		t.Fatal("Now returned the zero stamp")
	}
}

func TestSleepUntil(t *testing.T) {
	target := Now().Add(FromMicroseconds(200))
	SleepUntil(target)
	if now := Now(); now.Before(target) {
		t.Fatalf("woke up early: now %v, target %v", now, target)
	}
	// Must not block.
	SleepUntil(0)
	SleepUntil(Now().Sub(FromSeconds(1)))
}
