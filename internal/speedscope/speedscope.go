// Package speedscope converts profile results to the speedscope file format.
package speedscope

import (
	"sort"

	"github.com/getsentry/vernier/internal/calltree"
	"github.com/getsentry/vernier/internal/result"
)

const (
	Schema = "https://www.speedscope.app/file-format-schema.json"

	ValueUnitNanoseconds ValueUnit = "nanoseconds"
	ValueUnitBytes       ValueUnit = "bytes"
	ValueUnitNone        ValueUnit = "none"

	ProfileTypeSampled ProfileType = "sampled"
)

type (
	Frame struct {
		Col  uint32 `json:"col,omitempty"`
		File string `json:"file,omitempty"`
		Line uint32 `json:"line,omitempty"`
		Name string `json:"name"`
	}

	SampledProfile struct {
		EndValue     uint64      `json:"endValue"`
		IsMainThread bool        `json:"isMainThread"`
		Name         string      `json:"name"`
		Samples      [][]int     `json:"samples"`
		StartValue   uint64      `json:"startValue"`
		ThreadID     uint64      `json:"threadID"`
		Type         ProfileType `json:"type"`
		Unit         ValueUnit   `json:"unit"`
		Weights      []uint64    `json:"weights"`

		// SamplesProfiles indexes Shared.ProfileIDs for each sample of an
		// aggregated profile.
		SamplesProfiles [][]int `json:"samples_profiles,omitempty"`
	}

	SharedData struct {
		Frames     []Frame  `json:"frames"`
		ProfileIDs []string `json:"profile_ids,omitempty"`
	}

	ProfileType string
	ValueUnit   string

	Output struct {
		Schema             string           `json:"$schema"`
		ActiveProfileIndex int              `json:"activeProfileIndex"`
		DurationNS         uint64           `json:"durationNS"`
		Exporter           string           `json:"exporter"`
		Name               string           `json:"name"`
		ProfileID          string           `json:"profileID"`
		Profiles           []SampledProfile `json:"profiles"`
		Shared             SharedData       `json:"shared"`
	}
)

// FromResult builds one sampled profile per thread. Time profiles are
// weighted in nanoseconds, retained profiles in bytes. Samples without a
// stack are dropped.
func FromResult(r *result.Result) Output {
	o := Output{
		Schema:    Schema,
		Exporter:  "vernier",
		Name:      r.Meta.Mode + " profile",
		ProfileID: r.Meta.ProfileID,
		Profiles:  make([]SampledProfile, 0, len(r.Threads)),
		Shared: SharedData{
			Frames: make([]Frame, 0, len(r.FrameTable.Func)),
		},
	}
	if r.Meta.StoppedAt > r.Meta.StartedAt {
		o.DurationNS = r.Meta.StoppedAt - r.Meta.StartedAt
	}
	for i, fn := range r.FrameTable.Func {
		o.Shared.Frames = append(o.Shared.Frames, Frame{
			File: r.FuncTable.Filename[fn],
			Line: uint32(r.FrameTable.Line[i]),
			Name: r.FuncTable.Name[fn],
		})
	}

	unit, scale := ValueUnitNone, uint64(1)
	switch {
	case r.Meta.IntervalNS > 0:
		unit, scale = ValueUnitNanoseconds, r.Meta.IntervalNS
	case r.Meta.Mode == "retained":
		unit = ValueUnitBytes
	}

	var heaviest uint64
	for _, th := range r.Threads {
		p := SampledProfile{
			Name:     th.Name,
			Samples:  make([][]int, 0, len(th.Samples)),
			ThreadID: th.ID,
			Type:     ProfileTypeSampled,
			Unit:     unit,
			Weights:  make([]uint64, 0, len(th.Samples)),
		}
		if p.Name == "" {
			p.Name = "thread"
		}
		for j, stack := range th.Samples {
			if stack == calltree.NoStack {
				continue
			}
			w := th.Weights[j] * scale
			p.Samples = append(p.Samples, r.Stack(stack))
			p.Weights = append(p.Weights, w)
			p.EndValue += w
		}
		if p.EndValue > heaviest {
			heaviest = p.EndValue
			o.ActiveProfileIndex = len(o.Profiles)
		}
		o.Profiles = append(o.Profiles, p)
	}
	return o
}

// SortSamplesForFlamegraph orders samples so identical prefixes are
// adjacent. Weights and sample profiles follow their sample.
func (o *Output) SortSamplesForFlamegraph() {
	for i := range o.Profiles {
		p := &o.Profiles[i]
		order := make([]int, len(p.Samples))
		for j := range order {
			order[j] = j
		}
		sort.SliceStable(order, func(a, b int) bool {
			return lessAlphabetically(p.Samples[order[a]], p.Samples[order[b]], o.Shared.Frames)
		})
		samples := make([][]int, len(order))
		weights := make([]uint64, len(order))
		var profiles [][]int
		if len(order) > 0 && len(p.SamplesProfiles) == len(order) {
			profiles = make([][]int, len(order))
		}
		for j, k := range order {
			samples[j] = p.Samples[k]
			weights[j] = p.Weights[k]
			if profiles != nil {
				profiles[j] = p.SamplesProfiles[k]
			}
		}
		p.Samples, p.Weights = samples, weights
		if profiles != nil {
			p.SamplesProfiles = profiles
		}
	}
}

func lessAlphabetically(a, b []int, frames []Frame) bool {
	for c := 0; ; c++ {
		if len(a) == c {
			return len(b) > c
		} else if len(b) == c {
			return false
		}
		if frames[a[c]].Name < frames[b[c]].Name {
			return true
		} else if frames[a[c]].Name > frames[b[c]].Name {
			return false
		}
	}
}
