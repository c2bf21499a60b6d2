package result

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/getsentry/vernier/internal/calltree"
	"github.com/getsentry/vernier/internal/marker"
	"github.com/getsentry/vernier/internal/sample"
	"github.com/getsentry/vernier/internal/testutil"
)

func testResult() *Result {
	return &Result{
		Meta: Meta{Mode: "time", StartedAt: 1},
		StackTable: calltree.StackTable{
			Parent: []int{calltree.NoStack, 0, 1, 0},
			Frame:  []int{0, 1, 2, 3},
		},
		FrameTable: calltree.FrameTable{
			Func: []int{0, 1, 2, 3},
			Line: []int32{1, 2, 3, 4},
		},
		FuncTable: calltree.FuncTable{
			Name:      []string{"main", "a", "b", "c"},
			Filename:  []string{"main.go", "a.go", "b.go", "c.go"},
			FirstLine: []int{1, 1, 1, 1},
		},
		Threads: []Thread{
			{ID: 1, TID: 10, Samples: []int{2, 3}, Weights: []uint64{3, 4}},
			{ID: 2, TID: 20, Samples: []int{1}, Weights: []uint64{5}},
		},
	}
}

func TestStack(t *testing.T) {
	r := testResult()
	if diff := testutil.Diff(r.Stack(2), []int{0, 1, 2}); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
	if diff := testutil.Diff(r.Leaves(), []int{2, 3}); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
	if got := r.FuncName(3); got != "c" {
		t.Fatalf("wanted c, got %s", got)
	}
	if got := r.TotalWeight(); got != 12 {
		t.Fatalf("wanted total weight 12, got %d", got)
	}
}

func TestNewThread(t *testing.T) {
	var l sample.List
	l.Record(4, 100, 9, sample.CategoryNormal)
	l.Record(4, 200, 9, sample.CategoryNormal)
	l.Record(5, 300, 9, sample.CategoryIdle)

	got := NewThread(1, 9, "main", 50, 0, &l)
	want := Thread{
		ID:               1,
		TID:              9,
		Name:             "main",
		StartedAt:        50,
		Samples:          []int{4, 5},
		Weights:          []uint64{2, 1},
		Timestamps:       []uint64{100, 300},
		SampleCategories: []int{0, 1},
	}
	if diff := testutil.Diff(got, want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
}

func TestNewMarker(t *testing.T) {
	instant := NewMarker(3, marker.Marker{Type: marker.GCStart, Phase: marker.Instant, Timestamp: 10, StackIndex: marker.NoStack})
	if instant.End != nil || instant.ThreadID != 3 || instant.StackIndex != -1 {
		t.Fatalf("unexpected instant marker: %+v", instant)
	}
	interval := NewMarker(3, marker.Marker{Type: marker.GCPause, Phase: marker.Interval, Timestamp: 10, Finish: 25, StackIndex: marker.NoStack})
	if interval.End == nil || *interval.End != 25 {
		t.Fatalf("unexpected interval marker: %+v", interval)
	}
}

func TestEncodeDecode(t *testing.T) {
	r := testResult()
	var buf bytes.Buffer
	if err := r.Encode(&buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := Decode(&buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := testutil.Diff(got.Stack(2), r.Stack(2)); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
	if diff := testutil.Diff(got.Threads, r.Threads); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(r *Result)
	}{
		{
			name:   "weights shorter than samples",
			modify: func(r *Result) { r.Threads[0].Weights = r.Threads[0].Weights[:1] },
		},
		{
			name:   "timestamps shorter than samples",
			modify: func(r *Result) { r.Threads[0].Timestamps = []uint64{1} },
		},
		{
			name:   "categories longer than samples",
			modify: func(r *Result) { r.Threads[1].SampleCategories = []int{0, 1} },
		},
		{
			name:   "unknown category",
			modify: func(r *Result) { r.Threads[1].SampleCategories = []int{7} },
		},
		{
			name:   "sample past the stack table",
			modify: func(r *Result) { r.Threads[0].Samples[1] = 4 },
		},
		{
			name:   "negative sample",
			modify: func(r *Result) { r.Threads[0].Samples[0] = -2 },
		},
		{
			name:   "self parented stack",
			modify: func(r *Result) { r.StackTable.Parent[0] = 0 },
		},
		{
			name:   "parent after child",
			modify: func(r *Result) { r.StackTable.Parent[1] = 3 },
		},
		{
			name:   "stack frame columns differ",
			modify: func(r *Result) { r.StackTable.Frame = r.StackTable.Frame[:3] },
		},
		{
			name:   "frame past the frame table",
			modify: func(r *Result) { r.StackTable.Frame[2] = 4 },
		},
		{
			name:   "frame line columns differ",
			modify: func(r *Result) { r.FrameTable.Line = r.FrameTable.Line[:2] },
		},
		{
			name:   "func past the func table",
			modify: func(r *Result) { r.FrameTable.Func[3] = 4 },
		},
		{
			name:   "func columns differ",
			modify: func(r *Result) { r.FuncTable.Filename = r.FuncTable.Filename[:3] },
		},
		{
			name: "marker past the stack table",
			modify: func(r *Result) {
				r.Markers = []Marker{{ThreadID: 1, Type: marker.ThreadSuspended, StackIndex: 9}}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := testResult()
			tt.modify(r)
			if err := r.Validate(); !errors.Is(err, ErrInvalidResult) {
				t.Fatalf("expected ErrInvalidResult, got %v", err)
			}
		})
	}

	r := testResult()
	r.Threads[0].Samples[0] = calltree.NoStack
	r.Threads[1].Timestamps = []uint64{10}
	r.Threads[1].SampleCategories = []int{int(sample.CategoryIdle)}
	r.Markers = []Marker{{ThreadID: 1, Type: marker.GCPause, StackIndex: marker.NoStack}}
	if err := r.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDecodeRejectsInvalidResult(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{
			name: "sample without stack table",
			body: `{"threads":[{"samples":[5],"weights":[1]}]}`,
		},
		{
			name: "cyclic stack table",
			body: `{"threads":[{"samples":[0],"weights":[1]}],"stack_table":{"parent":[0],"frame":[0]},` +
				`"frame_table":{"func":[0],"line":[1]},"func_table":{"name":["f"],"filename":["f.go"],"first_line":[1]}}`,
		},
		{
			name: "missing weights",
			body: `{"threads":[{"samples":[-1]}]}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Decode(strings.NewReader(tt.body))
			if !errors.Is(err, ErrInvalidResult) {
				t.Fatalf("expected ErrInvalidResult, got %v", err)
			}
			if r != nil {
				t.Fatalf("expected no result, got %+v", r)
			}
		})
	}
}
