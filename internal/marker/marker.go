package marker

import (
	"sync"

	"github.com/getsentry/vernier/internal/timeutil"
)

// NoStack is the stack index of a marker without an associated stack.
const NoStack = -1

type Type int

const (
	GVLThreadStarted Type = iota
	GVLThreadExited

	GCStart
	GCEndMark
	GCEndSweep
	GCEnter
	GCExit
	GCPause

	ThreadRunning
	ThreadStalled
	ThreadSuspended
)

var typeNames = [...]string{
	GVLThreadStarted: "GVL_THREAD_STARTED",
	GVLThreadExited:  "GVL_THREAD_EXITED",
	GCStart:          "GC_START",
	GCEndMark:        "GC_END_MARK",
	GCEndSweep:       "GC_END_SWEEP",
	GCEnter:          "GC_ENTER",
	GCExit:           "GC_EXIT",
	GCPause:          "GC_PAUSE",
	ThreadRunning:    "THREAD_RUNNING",
	ThreadStalled:    "THREAD_STALLED",
	ThreadSuspended:  "THREAD_SUSPENDED",
}

func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return "UNKNOWN"
	}
	return typeNames[t]
}

// Phase values match the Gecko profiler's marker phases.
type Phase int

const (
	Instant Phase = iota
	Interval
	IntervalStart
	IntervalEnd
)

func (p Phase) String() string {
	switch p {
	case Instant:
		return "INSTANT"
	case Interval:
		return "INTERVAL"
	case IntervalStart:
		return "INTERVAL_START"
	case IntervalEnd:
		return "INTERVAL_END"
	}
	return "UNKNOWN"
}

type Marker struct {
	Type       Type
	Phase      Phase
	Timestamp  timeutil.Stamp
	Finish     timeutil.Stamp // only set for Interval
	StackIndex int
}

// Table is an append-only marker log, safe for concurrent writers.
type Table struct {
	mu   sync.Mutex
	list []Marker
}

// Record appends an instant marker timestamped now.
func (t *Table) Record(typ Type) {
	t.RecordWithStack(typ, NoStack)
}

func (t *Table) RecordWithStack(typ Type, stackIndex int) {
	now := timeutil.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.list = append(t.list, Marker{Type: typ, Phase: Instant, Timestamp: now, StackIndex: stackIndex})
}

func (t *Table) RecordInterval(typ Type, from, to timeutil.Stamp) {
	t.RecordIntervalWithStack(typ, from, to, NoStack)
}

func (t *Table) RecordIntervalWithStack(typ Type, from, to timeutil.Stamp, stackIndex int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.list = append(t.list, Marker{Type: typ, Phase: Interval, Timestamp: from, Finish: to, StackIndex: stackIndex})
}

// List returns a copy of the recorded markers in insertion order.
func (t *Table) List() []Marker {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Marker(nil), t.list...)
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.list)
}

// GCTable collapses GC enter/exit pairs into a single GC_PAUSE interval.
type GCTable struct {
	Table
	lastGCEntry timeutil.Stamp
}

func (t *GCTable) RecordGCEntered() {
	now := timeutil.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastGCEntry = now
}

func (t *GCTable) RecordGCLeave() {
	now := timeutil.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	// A leave without a matching enter, such as a GC already running when
	// the hooks were installed, has no start to report.
	if t.lastGCEntry.IsZero() {
		return
	}
	t.list = append(t.list, Marker{
		Type:       GCPause,
		Phase:      Interval,
		Timestamp:  t.lastGCEntry,
		Finish:     now,
		StackIndex: NoStack,
	})
	t.lastGCEntry = 0
}
