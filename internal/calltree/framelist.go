// Package calltree interns captured stacks into a shared prefix tree and
// produces the stack, frame and function tables of a profile.
package calltree

import (
	"sync"

	"github.com/getsentry/vernier/internal/errorutil"
	"github.com/getsentry/vernier/internal/frame"
	"github.com/getsentry/vernier/internal/host"
	"github.com/getsentry/vernier/internal/sample"
)

// NoStack is the stack index of "no stack". The synthetic root of the tree
// also carries it.
const NoStack = -1

type (
	// StackNode is one node of the call tree. Every distinct path from the
	// root maps to exactly one node, and node indexes follow creation order
	// so a parent always has a lower index than its children.
	StackNode struct {
		Frame    frame.Frame
		Parent   int
		Index    int
		children map[frame.Frame]int
	}

	frameWithInfo struct {
		frame frame.Frame
		info  frame.Info
	}

	// FrameList owns the frame and stack tables. All methods are safe for
	// concurrent use; Finalize and the table accessors must only be called
	// once sampling has stopped.
	FrameList struct {
		mu sync.Mutex

		frameToIndex map[frame.Frame]int
		frames       []frame.Frame
		infos        []frameWithInfo

		root  StackNode
		nodes []StackNode
	}
)

func NewFrameList() *FrameList {
	l := &FrameList{}
	l.Reset()
	return l
}

// Reset drops every frame and stack.
func (l *FrameList) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.frameToIndex = make(map[frame.Frame]int)
	l.frames = nil
	l.infos = nil
	l.nodes = nil
	l.root = StackNode{Parent: NoStack, Index: NoStack, children: make(map[frame.Frame]int)}
}

// FrameIndex returns the index of f, registering it on first sight.
func (l *FrameList) FrameIndex(f frame.Frame) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frameIndex(f)
}

func (l *FrameList) frameIndex(f frame.Frame) int {
	if idx, ok := l.frameToIndex[f]; ok {
		return idx
	}
	idx := len(l.frames)
	l.frames = append(l.frames, f)
	l.frameToIndex[f] = idx
	return idx
}

// StackIndex interns the whole stack of s and returns the index of its leaf.
// Interning an empty stack is a bug in the caller.
func (l *FrameList) StackIndex(s *sample.Raw) int {
	if s.Empty() {
		errorutil.Invariant("empty stack")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	node := NoStack
	for i := 0; i < s.Len(); i++ {
		node = l.nextStackNode(node, s.Frame(i))
	}
	return node
}

// nextStackNode returns the child of parent for f, creating it if needed.
// The caller must hold l.mu.
func (l *FrameList) nextStackNode(parent int, f frame.Frame) int {
	children := l.root.children
	if parent != NoStack {
		children = l.nodes[parent].children
	}
	if idx, ok := children[f]; ok {
		return idx
	}
	idx := len(l.nodes)
	children[f] = idx
	l.nodes = append(l.nodes, StackNode{
		Frame:    f,
		Parent:   parent,
		Index:    idx,
		children: make(map[frame.Frame]int),
	})
	return idx
}

// Len returns the number of stack nodes.
func (l *FrameList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.nodes)
}

// Node returns a copy of the stack node at idx.
func (l *FrameList) Node(idx int) StackNode {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.nodes[idx]
	n.children = nil
	return n
}

// Frames returns the frames of the stack at idx, root first.
func (l *FrameList) Frames(idx int) []frame.Frame {
	l.mu.Lock()
	defer l.mu.Unlock()

	var frames []frame.Frame
	for i := idx; i != NoStack; i = l.nodes[i].Parent {
		frames = append(frames, l.nodes[i].Frame)
	}
	for i, j := 0, len(frames)-1; i < j; i, j = i+1, j-1 {
		frames[i], frames[j] = frames[j], frames[i]
	}
	return frames
}

// Finalize registers the frame of every stack node and resolves symbols for
// every frame that has not been resolved yet. Symbol resolution allocates,
// so it is kept out of the sampling path.
func (l *FrameList) Finalize(sym host.Symbolizer) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, n := range l.nodes {
		l.frameIndex(n.Frame)
	}
	for _, f := range l.frames[len(l.infos):] {
		l.infos = append(l.infos, frameWithInfo{frame: f, info: sym.FrameInfo(f.Handle)})
	}
}
