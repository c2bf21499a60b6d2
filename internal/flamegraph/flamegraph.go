// Package flamegraph merges stored profiles into one aggregated flamegraph.
package flamegraph

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"gocloud.dev/blob"

	"github.com/getsentry/vernier/internal/nodetree"
	"github.com/getsentry/vernier/internal/result"
	"github.com/getsentry/vernier/internal/speedscope"
	"github.com/getsentry/vernier/internal/storageutil"
)

type (
	Pair[T, U any] struct {
		First  T
		Second U
	}

	// node is a call tree node whose value is in the unit of the profile
	// mode: nanoseconds, bytes or samples.
	node struct {
		name       string
		path       string
		line       int32
		value      uint64
		children   []*node
		profileIDs map[string]struct{}
	}
)

var void = struct{}{}

// GetFlamegraphFromProfiles reads the given profiles of one mode from the
// bucket with numWorkers readers and merges the call trees of all their
// threads. Profiles missing from the bucket are skipped. When timeout
// expires the profiles merged so far are returned.
func GetFlamegraphFromProfiles(
	ctx context.Context,
	profilesBucket *blob.Bucket,
	mode string,
	profileIDs []string,
	numWorkers int,
	timeout time.Duration) (speedscope.Output, error) {
	if numWorkers < 1 {
		numWorkers = 1
	}
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	timeoutContext, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var wg sync.WaitGroup
	callTreesQueue := make(chan Pair[string, []*node], numWorkers)
	profileIDsChan := make(chan string, numWorkers)

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for profileID := range profileIDsChan {
				var r result.Result
				err := storageutil.UnmarshalCompressed(timeoutContext, profilesBucket, storageutil.ProfilePath(mode, profileID), &r)
				if err != nil {
					if errors.Is(err, storageutil.ErrObjectNotFound) {
						continue
					}
					if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
						return
					}
					hub.CaptureException(err)
					continue
				}
				if err := r.Validate(); err != nil {
					hub.CaptureException(err)
					continue
				}
				callTrees, err := callTreesFromResult(&r)
				if err != nil {
					hub.CaptureException(err)
					continue
				}
				callTreesQueue <- Pair[string, []*node]{profileID, callTrees}
			}
		}()
	}

	go func() {
		defer close(profileIDsChan)
		for _, profileID := range profileIDs {
			select {
			case <-timeoutContext.Done():
				return
			case profileIDsChan <- profileID:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(callTreesQueue)
	}()

	var flamegraphTree []*node
	countProfAggregated := 0
	for pair := range callTreesQueue {
		addCallTreeToFlamegraph(&flamegraphTree, pair.Second, pair.First)
		countProfAggregated++
	}

	sp := toSpeedscope(flamegraphTree, 1, unitForMode(mode))
	hub.Scope().SetTag("processed_profiles", strconv.Itoa(countProfAggregated))
	return sp, nil
}

func unitForMode(mode string) speedscope.ValueUnit {
	switch mode {
	case "time":
		return speedscope.ValueUnitNanoseconds
	case "retained":
		return speedscope.ValueUnitBytes
	}
	return speedscope.ValueUnitNone
}

// callTreesFromResult builds the call trees of every thread of r. Time
// profiles are valued by duration, the others by weight.
func callTreesFromResult(r *result.Result) ([]*node, error) {
	var trees []*node
	for i := range r.Threads {
		roots, err := nodetree.FromResult(r, i)
		if err != nil {
			return nil, err
		}
		for _, root := range roots {
			trees = append(trees, fromNodeTree(root, r.Meta.IntervalNS > 0))
		}
	}
	return trees, nil
}

func fromNodeTree(n *nodetree.Node, useDuration bool) *node {
	value := n.Weight
	if useDuration {
		value = n.DurationNS
	}
	c := &node{
		name:       n.Name,
		path:       n.Path,
		line:       n.Line,
		value:      value,
		profileIDs: make(map[string]struct{}),
	}
	for _, child := range n.Children {
		c.children = append(c.children, fromNodeTree(child, useDuration))
	}
	return c
}

func getMatchingNode(nodes []*node, newNode *node) *node {
	for _, n := range nodes {
		if n.name == newNode.name && n.path == newNode.path {
			return n
		}
	}
	return nil
}

func sumNodesValue(nodes []*node) uint64 {
	var v uint64
	for _, n := range nodes {
		v += n.value
	}
	return v
}

func addCallTreeToFlamegraph(flamegraphTree *[]*node, callTree []*node, profileID string) {
	for _, n := range callTree {
		if existingNode := getMatchingNode(*flamegraphTree, n); existingNode != nil {
			existingNode.value += n.value
			addCallTreeToFlamegraph(&existingNode.children, n.children, profileID)
			if n.value > sumNodesValue(n.children) {
				existingNode.profileIDs[profileID] = void
			}
		} else {
			*flamegraphTree = append(*flamegraphTree, n)
			expandCallTreeWithProfileID(n, profileID)
		}
	}
}

// expandCallTreeWithProfileID tags every node of a new branch where samples
// of the profile end.
func expandCallTreeWithProfileID(n *node, profileID string) {
	if n.children == nil {
		n.profileIDs[profileID] = void
		return
	}
	for _, child := range n.children {
		expandCallTreeWithProfileID(child, profileID)
	}
	if n.value > sumNodesValue(n.children) {
		n.profileIDs[profileID] = void
	}
}

type flamegraph struct {
	samples           [][]int
	samplesProfileIDs [][]int
	weights           []uint64
	frames            []speedscope.Frame
	framesIndex       map[string]int
	profilesIDsIndex  map[string]int
	profilesIDs       []string
	endValue          uint64
	minValue          uint64
}

func toSpeedscope(trees []*node, minValue uint64, unit speedscope.ValueUnit) speedscope.Output {
	fd := &flamegraph{
		frames:           make([]speedscope.Frame, 0),
		framesIndex:      make(map[string]int),
		minValue:         minValue,
		profilesIDsIndex: make(map[string]int),
		samples:          make([][]int, 0),
		weights:          make([]uint64, 0),
	}
	for _, tree := range trees {
		stack := make([]int, 0, 32)
		fd.visitCalltree(tree, &stack)
	}

	o := speedscope.Output{
		Schema:   speedscope.Schema,
		Exporter: "vernier",
		Name:     "flamegraph",
		Profiles: []speedscope.SampledProfile{
			{
				EndValue:        fd.endValue,
				IsMainThread:    true,
				Name:            "flamegraph",
				Samples:         fd.samples,
				SamplesProfiles: fd.samplesProfileIDs,
				Type:            speedscope.ProfileTypeSampled,
				Unit:            unit,
				Weights:         fd.weights,
			},
		},
		Shared: speedscope.SharedData{
			Frames:     fd.frames,
			ProfileIDs: fd.profilesIDs,
		},
	}
	o.SortSamplesForFlamegraph()
	return o
}

func (f *flamegraph) visitCalltree(n *node, currentStack *[]int) {
	if n.value < f.minValue {
		return
	}

	frameID := n.path + ":" + n.name
	if i, exists := f.framesIndex[frameID]; exists {
		*currentStack = append(*currentStack, i)
	} else {
		f.framesIndex[frameID] = len(f.frames)
		*currentStack = append(*currentStack, len(f.frames))
		f.frames = append(f.frames, speedscope.Frame{
			File: n.path,
			Line: uint32(n.line),
			Name: n.name,
		})
	}

	if n.children == nil {
		f.addSample(currentStack, n.value, n.profileIDs)
	} else {
		var childrenValue uint64
		for _, child := range n.children {
			childrenValue += child.value
			f.visitCalltree(child, currentStack)
		}
		if n.value > childrenValue && n.value-childrenValue >= f.minValue {
			f.addSample(currentStack, n.value-childrenValue, n.profileIDs)
		}
	}
	*currentStack = (*currentStack)[:len(*currentStack)-1]
}

func (f *flamegraph) addSample(stack *[]int, value uint64, profileIDs map[string]struct{}) {
	cp := make([]int, len(*stack))
	copy(cp, *stack)
	f.samples = append(f.samples, cp)
	f.weights = append(f.weights, value)
	f.samplesProfileIDs = append(f.samplesProfileIDs, f.getProfileIDsIndices(profileIDs))
	f.endValue += value
}

func (f *flamegraph) getProfileIDsIndices(profileIDs map[string]struct{}) []int {
	ids := make([]string, 0, len(profileIDs))
	for id := range profileIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	indices := make([]int, 0, len(ids))
	for _, id := range ids {
		if idx, ok := f.profilesIDsIndex[id]; ok {
			indices = append(indices, idx)
		} else {
			indices = append(indices, len(f.profilesIDs))
			f.profilesIDsIndex[id] = len(f.profilesIDs)
			f.profilesIDs = append(f.profilesIDs, id)
		}
	}
	return indices
}
