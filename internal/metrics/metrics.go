// Package metrics aggregates function self weights across profiles.
package metrics

import (
	"errors"
	"math"
	"sort"

	"github.com/getsentry/vernier/internal/nodetree"
	"github.com/getsentry/vernier/internal/result"
)

type FunctionsMetadata struct {
	MaxVal   uint64
	WorstID  string
	Examples []string
}

type Aggregator struct {
	MaxUniqueFunctions uint
	MaxNumOfExamples   uint
	CallTreeFunctions  map[uint64]nodetree.CallTreeFunction
	FunctionsMetadata  map[uint64]FunctionsMetadata
}

type FunctionMetrics struct {
	Name        string   `json:"name"`
	Path        string   `json:"path,omitempty"`
	Fingerprint uint64   `json:"fingerprint"`
	P75         uint64   `json:"p75"`
	P95         uint64   `json:"p95"`
	P99         uint64   `json:"p99"`
	Avg         float64  `json:"avg"`
	Sum         uint64   `json:"sum"`
	Count       uint64   `json:"count"`
	Worst       string   `json:"worst"`
	Examples    []string `json:"examples"`
}

func NewAggregator(maxUniqueFunctions, maxNumOfExamples uint) Aggregator {
	return Aggregator{
		MaxUniqueFunctions: maxUniqueFunctions,
		MaxNumOfExamples:   maxNumOfExamples,
		CallTreeFunctions:  make(map[uint64]nodetree.CallTreeFunction),
		FunctionsMetadata:  make(map[uint64]FunctionsMetadata),
	}
}

// AddResult collects the functions of every thread of r under its profile
// id.
func (ma *Aggregator) AddResult(r *result.Result) error {
	functions := make(map[uint64]nodetree.CallTreeFunction)
	for i := range r.Threads {
		roots, err := nodetree.FromResult(r, i)
		if err != nil {
			return err
		}
		for _, n := range roots {
			n.CollectFunctions(functions)
		}
	}
	list := make([]nodetree.CallTreeFunction, 0, len(functions))
	for _, f := range functions {
		list = append(list, f)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Fingerprint < list[j].Fingerprint
	})
	ma.AddFunctions(list, r.Meta.ProfileID)
	return nil
}

func (ma *Aggregator) AddFunctions(functions []nodetree.CallTreeFunction, id string) {
	for _, f := range functions {
		fn, ok := ma.CallTreeFunctions[f.Fingerprint]
		if !ok {
			f.SelfWeights = append([]uint64(nil), f.SelfWeights...)
			ma.CallTreeFunctions[f.Fingerprint] = f
			ma.FunctionsMetadata[f.Fingerprint] = FunctionsMetadata{
				MaxVal:   f.SumSelfWeight,
				WorstID:  id,
				Examples: []string{id},
			}
			continue
		}
		fn.SelfWeights = append(fn.SelfWeights, f.SelfWeights...)
		fn.SumSelfWeight += f.SumSelfWeight
		ma.CallTreeFunctions[f.Fingerprint] = fn

		md := ma.FunctionsMetadata[f.Fingerprint]
		if f.SumSelfWeight > md.MaxVal {
			md.MaxVal = f.SumSelfWeight
			md.WorstID = id
		}
		if uint(len(md.Examples)) < ma.MaxNumOfExamples {
			md.Examples = append(md.Examples, id)
		}
		ma.FunctionsMetadata[f.Fingerprint] = md
	}
}

// ToMetrics returns the heaviest functions first, at most
// MaxUniqueFunctions of them.
func (ma *Aggregator) ToMetrics() []FunctionMetrics {
	metrics := make([]FunctionMetrics, 0, len(ma.CallTreeFunctions))

	for _, f := range ma.CallTreeFunctions {
		weights := append([]uint64(nil), f.SelfWeights...)
		sort.Slice(weights, func(i, j int) bool {
			return weights[i] < weights[j]
		})
		p75, _ := quantile(weights, 0.75)
		p95, _ := quantile(weights, 0.95)
		p99, _ := quantile(weights, 0.99)
		var avg float64
		if len(weights) > 0 {
			avg = float64(f.SumSelfWeight) / float64(len(weights))
		}
		md := ma.FunctionsMetadata[f.Fingerprint]
		metrics = append(metrics, FunctionMetrics{
			Name:        f.Function,
			Path:        f.Path,
			Fingerprint: f.Fingerprint,
			P75:         p75,
			P95:         p95,
			P99:         p99,
			Avg:         avg,
			Sum:         f.SumSelfWeight,
			Count:       uint64(len(weights)),
			Worst:       md.WorstID,
			Examples:    md.Examples,
		})
	}
	sort.Slice(metrics, func(i, j int) bool {
		if metrics[i].Sum != metrics[j].Sum {
			return metrics[i].Sum > metrics[j].Sum
		}
		return metrics[i].Name < metrics[j].Name
	})
	if len(metrics) > int(ma.MaxUniqueFunctions) {
		metrics = metrics[:ma.MaxUniqueFunctions]
	}
	return metrics
}

func quantile(values []uint64, q float64) (uint64, error) {
	if len(values) == 0 {
		return 0, errors.New("cannot compute percentile from empty list")
	}
	if q <= 0 || q > 1 {
		return 0, errors.New("q must be a value between 0 and 1.0")
	}
	index := int(math.Ceil(float64(len(values))*q)) - 1
	return values[index], nil
}
