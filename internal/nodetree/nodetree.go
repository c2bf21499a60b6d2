// Package nodetree aggregates the samples of one thread into a call tree.
package nodetree

import (
	"errors"
	"hash"
	"hash/fnv"

	"github.com/getsentry/vernier/internal/calltree"
	"github.com/getsentry/vernier/internal/result"
	"github.com/getsentry/vernier/internal/sample"
)

var ErrInvalidThread = errors.New("nodetree: thread index out of range")

type (
	Node struct {
		DurationNS  uint64  `json:"duration_ns,omitempty"`
		Fingerprint uint64  `json:"fingerprint"`
		Line        int32   `json:"line,omitempty"`
		Name        string  `json:"name"`
		Path        string  `json:"path,omitempty"`
		Weight      uint64  `json:"weight"`
		SelfWeight  uint64  `json:"self_weight"`
		IdleWeight  uint64  `json:"idle_weight,omitempty"`
		Children    []*Node `json:"children,omitempty"`

		children map[int]*Node
	}

	CallTreeFunction struct {
		Fingerprint   uint64   `json:"fingerprint"`
		Function      string   `json:"function"`
		Path          string   `json:"path,omitempty"`
		SelfWeights   []uint64 `json:"self_weights"`
		SumSelfWeight uint64   `json:"sum_self_weight"`
	}
)

func newNode(r *result.Result, frameIndex int, h hash.Hash64) *Node {
	n := &Node{
		Line: r.FrameTable.Line[frameIndex],
		Name: r.FuncName(frameIndex),
		Path: r.FuncTable.Filename[r.FrameTable.Func[frameIndex]],
	}
	n.WriteToHash(h)
	n.Fingerprint = h.Sum64()
	return n
}

func (n *Node) child(r *result.Result, frameIndex int, h hash.Hash64) *Node {
	if c, ok := n.children[frameIndex]; ok {
		c.WriteToHash(h)
		return c
	}
	c := newNode(r, frameIndex, h)
	if n.children == nil {
		n.children = make(map[int]*Node)
	}
	n.children[frameIndex] = c
	n.Children = append(n.Children, c)
	return c
}

func (n *Node) WriteToHash(h hash.Hash) {
	if n.Name == "" {
		h.Write([]byte("-"))
	} else {
		h.Write([]byte(n.Path))
		h.Write([]byte(n.Name))
	}
}

func (n *Node) add(weight uint64, c sample.Category) {
	n.Weight += weight
	if c == sample.CategoryIdle {
		n.IdleWeight += weight
	}
}

// FromResult builds the call trees of one thread of r. Samples without a
// stack are not counted. Durations are only set when r has a sampling
// interval.
func FromResult(r *result.Result, threadIndex int) ([]*Node, error) {
	if threadIndex < 0 || threadIndex >= len(r.Threads) {
		return nil, ErrInvalidThread
	}
	th := r.Threads[threadIndex]
	root := &Node{}
	h := fnv.New64()
	for i, stack := range th.Samples {
		if stack == calltree.NoStack {
			continue
		}
		weight := th.Weights[i]
		category := sample.CategoryNormal
		if i < len(th.SampleCategories) {
			category = sample.Category(th.SampleCategories[i])
		}
		h.Reset()
		current := root
		for _, f := range r.Stack(stack) {
			current = current.child(r, f, h)
			current.add(weight, category)
		}
		current.SelfWeight += weight
	}
	if r.Meta.IntervalNS > 0 {
		for _, n := range root.Children {
			n.setDuration(r.Meta.IntervalNS)
		}
	}
	return root.Children, nil
}

func (n *Node) setDuration(intervalNS uint64) {
	n.DurationNS = n.Weight * intervalNS
	for _, c := range n.Children {
		c.setDuration(intervalNS)
	}
}

// CollectFunctions sums self weight per function across the tree.
func (n *Node) CollectFunctions(results map[uint64]CallTreeFunction) {
	for _, c := range n.Children {
		c.CollectFunctions(results)
	}
	if n.SelfWeight == 0 {
		return
	}
	h := fnv.New64()
	h.Write([]byte(n.Path))
	h.Write([]byte(n.Name))
	fingerprint := h.Sum64()
	function, exists := results[fingerprint]
	if !exists {
		function = CallTreeFunction{
			Fingerprint: fingerprint,
			Function:    n.Name,
			Path:        n.Path,
		}
	}
	function.SelfWeights = append(function.SelfWeights, n.SelfWeight)
	function.SumSelfWeight += n.SelfWeight
	results[fingerprint] = function
}
