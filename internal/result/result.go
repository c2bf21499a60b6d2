// Package result holds the tables a collector produces when it stops.
package result

import (
	"fmt"
	"io"

	json "github.com/goccy/go-json"

	"github.com/getsentry/vernier/internal/calltree"
	"github.com/getsentry/vernier/internal/errorutil"
	"github.com/getsentry/vernier/internal/host"
	"github.com/getsentry/vernier/internal/marker"
	"github.com/getsentry/vernier/internal/sample"
	"github.com/getsentry/vernier/internal/timeutil"
)

// ErrInvalidResult is returned for results whose tables don't reference
// each other consistently.
var ErrInvalidResult = fmt.Errorf("%w: invalid result", errorutil.ErrInvalidArgument)

type (
	Meta struct {
		ProfileID  string `json:"profile_id"`
		Mode       string `json:"mode"`
		StartedAt  uint64 `json:"started_at"`
		StoppedAt  uint64 `json:"stopped_at"`
		IntervalNS uint64 `json:"interval_ns,omitempty"`
	}

	// Thread is the timeline of one runtime thread. The sample columns are
	// parallel slices.
	Thread struct {
		ID               uint64   `json:"id"`
		TID              uint64   `json:"tid"`
		Name             string   `json:"name"`
		StartedAt        uint64   `json:"started_at"`
		StoppedAt        uint64   `json:"stopped_at,omitempty"`
		Samples          []int    `json:"samples"`
		Weights          []uint64 `json:"weights"`
		Timestamps       []uint64 `json:"timestamps,omitempty"`
		SampleCategories []int    `json:"sample_categories,omitempty"`
	}

	Marker struct {
		ThreadID   uint64       `json:"thread_id"`
		Type       marker.Type  `json:"type"`
		Phase      marker.Phase `json:"phase"`
		Start      uint64       `json:"start"`
		End        *uint64      `json:"end"`
		StackIndex int          `json:"stack_index"`
	}

	Result struct {
		Meta       Meta                `json:"meta"`
		Threads    []Thread            `json:"threads"`
		StackTable calltree.StackTable `json:"stack_table"`
		FrameTable calltree.FrameTable `json:"frame_table"`
		FuncTable  calltree.FuncTable  `json:"func_table"`
		Markers    []Marker            `json:"markers"`
	}
)

// NewThread converts a sample timeline into its serialized form.
func NewThread(id host.ThreadID, tid host.NativeThreadID, name string, startedAt, stoppedAt timeutil.Stamp, l *sample.List) Thread {
	t := Thread{
		ID:               uint64(id),
		TID:              uint64(tid),
		Name:             name,
		StartedAt:        startedAt.Nanoseconds(),
		StoppedAt:        stoppedAt.Nanoseconds(),
		Samples:          make([]int, 0, l.Len()),
		Weights:          make([]uint64, 0, l.Len()),
		Timestamps:       make([]uint64, 0, l.Len()),
		SampleCategories: make([]int, 0, l.Len()),
	}
	for i := range l.Stacks {
		t.Samples = append(t.Samples, l.Stacks[i])
		t.Weights = append(t.Weights, l.Weights[i])
		t.Timestamps = append(t.Timestamps, l.Timestamps[i].Nanoseconds())
		t.SampleCategories = append(t.SampleCategories, int(l.Categories[i]))
	}
	return t
}

// NewMarker tags m with the runtime thread it belongs to.
func NewMarker(threadID host.ThreadID, m marker.Marker) Marker {
	out := Marker{
		ThreadID:   uint64(threadID),
		Type:       m.Type,
		Phase:      m.Phase,
		Start:      m.Timestamp.Nanoseconds(),
		StackIndex: m.StackIndex,
	}
	if m.Phase == marker.Interval {
		end := m.Finish.Nanoseconds()
		out.End = &end
	}
	return out
}

func (t Thread) TotalWeight() uint64 {
	var total uint64
	for _, w := range t.Weights {
		total += w
	}
	return total
}

// TotalWeight sums the weights of every thread.
func (r *Result) TotalWeight() uint64 {
	var total uint64
	for _, t := range r.Threads {
		total += t.TotalWeight()
	}
	return total
}

// Stack returns the frame indexes of a stack, root first.
func (r *Result) Stack(idx int) []int {
	var frames []int
	for i := idx; i != calltree.NoStack; i = r.StackTable.Parent[i] {
		frames = append(frames, r.StackTable.Frame[i])
	}
	for i, j := 0, len(frames)-1; i < j; i, j = i+1, j-1 {
		frames[i], frames[j] = frames[j], frames[i]
	}
	return frames
}

// Leaves returns the stack indexes no other stack has as parent.
func (r *Result) Leaves() []int {
	hasChild := make([]bool, len(r.StackTable.Parent))
	for _, p := range r.StackTable.Parent {
		if p != calltree.NoStack {
			hasChild[p] = true
		}
	}
	var leaves []int
	for i, c := range hasChild {
		if !c {
			leaves = append(leaves, i)
		}
	}
	return leaves
}

// FuncName returns the function name of a frame.
func (r *Result) FuncName(frameIndex int) string {
	return r.FuncTable.Name[r.FrameTable.Func[frameIndex]]
}

func (r *Result) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

func (r *Result) Encode(w io.Writer) error {
	return json.NewEncoder(w).Encode(r)
}

// Decode reads a result and checks it can be walked safely.
func Decode(rd io.Reader) (*Result, error) {
	var r Result
	if err := json.NewDecoder(rd).Decode(&r); err != nil {
		return nil, err
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidResult, fmt.Sprintf(format, args...))
}

// Validate checks every index points inside its table and every stack
// node's parent comes before it, so Stack always reaches the root.
func (r *Result) Validate() error {
	st, ft, fn := r.StackTable, r.FrameTable, r.FuncTable
	if len(fn.Filename) != len(fn.Name) || len(fn.FirstLine) != len(fn.Name) {
		return invalid("func table has %d names, %d filenames and %d first lines", len(fn.Name), len(fn.Filename), len(fn.FirstLine))
	}
	if len(ft.Line) != len(ft.Func) {
		return invalid("frame table has %d funcs and %d lines", len(ft.Func), len(ft.Line))
	}
	for i, f := range ft.Func {
		if f < 0 || f >= len(fn.Name) {
			return invalid("frame %d references func %d out of %d", i, f, len(fn.Name))
		}
	}
	if len(st.Frame) != len(st.Parent) {
		return invalid("stack table has %d parents and %d frames", len(st.Parent), len(st.Frame))
	}
	for i, p := range st.Parent {
		if p != calltree.NoStack && (p < 0 || p >= i) {
			return invalid("stack %d has parent %d", i, p)
		}
		if f := st.Frame[i]; f < 0 || f >= len(ft.Func) {
			return invalid("stack %d references frame %d out of %d", i, f, len(ft.Func))
		}
	}
	validStack := func(idx int) bool {
		return idx == calltree.NoStack || (idx >= 0 && idx < len(st.Parent))
	}
	for _, t := range r.Threads {
		n := len(t.Samples)
		if len(t.Weights) != n {
			return invalid("thread %d has %d samples and %d weights", t.ID, n, len(t.Weights))
		}
		if len(t.Timestamps) != 0 && len(t.Timestamps) != n {
			return invalid("thread %d has %d samples and %d timestamps", t.ID, n, len(t.Timestamps))
		}
		if len(t.SampleCategories) != 0 && len(t.SampleCategories) != n {
			return invalid("thread %d has %d samples and %d categories", t.ID, n, len(t.SampleCategories))
		}
		for i, s := range t.Samples {
			if !validStack(s) {
				return invalid("thread %d sample %d references stack %d out of %d", t.ID, i, s, len(st.Parent))
			}
		}
		for i, c := range t.SampleCategories {
			if c != int(sample.CategoryNormal) && c != int(sample.CategoryIdle) {
				return invalid("thread %d sample %d has unknown category %d", t.ID, i, c)
			}
		}
	}
	for i, m := range r.Markers {
		if !validStack(m.StackIndex) {
			return invalid("marker %d references stack %d out of %d", i, m.StackIndex, len(st.Parent))
		}
	}
	return nil
}
