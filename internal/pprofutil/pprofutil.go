// Package pprofutil converts profile results to the pprof format.
package pprofutil

import (
	"io"
	"strconv"

	"github.com/google/pprof/profile"

	"github.com/getsentry/vernier/internal/calltree"
	"github.com/getsentry/vernier/internal/result"
	"github.com/getsentry/vernier/internal/sample"
)

// FromResult builds a pprof profile with one sample per timeline entry.
// Leaf frames come first, as pprof expects. Functions are merged by name and
// file.
func FromResult(r *result.Result) *profile.Profile {
	prof := &profile.Profile{
		TimeNanos: int64(r.Meta.StartedAt),
	}
	if r.Meta.StoppedAt > r.Meta.StartedAt {
		prof.DurationNanos = int64(r.Meta.StoppedAt - r.Meta.StartedAt)
	}
	m := &profile.Mapping{ID: 1, HasFunctions: true}
	prof.Mapping = []*profile.Mapping{m}

	scale := int64(1)
	switch {
	case r.Meta.IntervalNS > 0:
		scale = int64(r.Meta.IntervalNS)
		prof.Period = scale
		prof.PeriodType = &profile.ValueType{Type: "wall", Unit: "nanoseconds"}
		prof.SampleType = []*profile.ValueType{
			{Type: "samples", Unit: "count"},
			{Type: "wall", Unit: "nanoseconds"},
		}
	case r.Meta.Mode == "retained":
		prof.SampleType = []*profile.ValueType{
			{Type: "objects", Unit: "count"},
			{Type: "retained", Unit: "bytes"},
		}
	default:
		prof.SampleType = []*profile.ValueType{
			{Type: "samples", Unit: "count"},
		}
	}

	type functionKey struct {
		Name     string
		Filename string
	}
	funcIdx := map[functionKey]*profile.Function{}
	locationIdx := make([]*profile.Location, len(r.FrameTable.Func))
	location := func(frameIndex int) *profile.Location {
		if l := locationIdx[frameIndex]; l != nil {
			return l
		}
		fn := r.FrameTable.Func[frameIndex]
		key := functionKey{Name: r.FuncTable.Name[fn], Filename: r.FuncTable.Filename[fn]}
		function, ok := funcIdx[key]
		if !ok {
			function = &profile.Function{
				ID:         uint64(len(prof.Function)) + 1,
				Name:       key.Name,
				SystemName: key.Name,
				Filename:   key.Filename,
				StartLine:  int64(r.FuncTable.FirstLine[fn]),
			}
			funcIdx[key] = function
			prof.Function = append(prof.Function, function)
		}
		l := &profile.Location{
			ID:      uint64(len(prof.Location)) + 1,
			Mapping: m,
			Line: []profile.Line{{
				Function: function,
				Line:     int64(r.FrameTable.Line[frameIndex]),
			}},
		}
		locationIdx[frameIndex] = l
		prof.Location = append(prof.Location, l)
		return l
	}

	stacks := make(map[int][]*profile.Location)
	for _, th := range r.Threads {
		labels := map[string][]string{
			"thread": {threadName(th)},
		}
		numLabels := map[string][]int64{
			"thread_id": {int64(th.ID)},
			"tid":       {int64(th.TID)},
		}
		for i, stack := range th.Samples {
			if stack == calltree.NoStack {
				continue
			}
			locs, ok := stacks[stack]
			if !ok {
				frames := r.Stack(stack)
				locs = make([]*profile.Location, 0, len(frames))
				for j := len(frames) - 1; j >= 0; j-- {
					locs = append(locs, location(frames[j]))
				}
				stacks[stack] = locs
			}
			weight := int64(th.Weights[i])
			s := &profile.Sample{
				Location: locs,
				Label:    labels,
				NumLabel: numLabels,
			}
			switch len(prof.SampleType) {
			case 2:
				if r.Meta.IntervalNS > 0 {
					s.Value = []int64{weight, weight * scale}
				} else {
					s.Value = []int64{1, weight}
				}
			default:
				s.Value = []int64{weight}
			}
			if i < len(th.SampleCategories) && sample.Category(th.SampleCategories[i]) == sample.CategoryIdle {
				s.Label = map[string][]string{
					"thread":   labels["thread"],
					"category": {sample.CategoryIdle.String()},
				}
			}
			prof.Sample = append(prof.Sample, s)
		}
	}
	return prof
}

func threadName(th result.Thread) string {
	if th.Name != "" {
		return th.Name
	}
	return strconv.FormatUint(th.ID, 10)
}

// Write encodes r as a gzipped pprof protobuf.
func Write(w io.Writer, r *result.Result) error {
	prof := FromResult(r)
	if err := prof.CheckValid(); err != nil {
		return err
	}
	return prof.Write(w)
}
