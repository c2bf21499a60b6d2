package sample

import (
	"github.com/getsentry/vernier/internal/host"
	"github.com/getsentry/vernier/internal/timeutil"
)

type Category int

const (
	CategoryNormal Category = iota
	CategoryIdle
)

func (c Category) String() string {
	switch c {
	case CategoryNormal:
		return "normal"
	case CategoryIdle:
		return "idle"
	}
	return "unknown"
}

// List is a columnar sample timeline. Consecutive samples with the same
// stack, thread and category are folded into one entry whose weight counts
// them; only the first timestamp of such a run is kept.
type List struct {
	Stacks     []int
	Timestamps []timeutil.Stamp
	Threads    []host.NativeThreadID
	Categories []Category
	Weights    []uint64
}

func (l *List) Len() int {
	return len(l.Stacks)
}

func (l *List) Empty() bool {
	return l.Len() == 0
}

// Record appends a sample or bumps the weight of the previous entry.
func (l *List) Record(stack int, ts timeutil.Stamp, tid host.NativeThreadID, c Category) {
	n := l.Len()
	if n > 0 &&
		l.Stacks[n-1] == stack &&
		l.Threads[n-1] == tid &&
		l.Categories[n-1] == c {
		// Timestamps are not compared.
		l.Weights[n-1]++
		return
	}
	l.RecordWeighted(stack, ts, tid, c, 1)
}

// RecordWeighted always appends a new entry with the given weight.
func (l *List) RecordWeighted(stack int, ts timeutil.Stamp, tid host.NativeThreadID, c Category, weight uint64) {
	l.Stacks = append(l.Stacks, stack)
	l.Timestamps = append(l.Timestamps, ts)
	l.Threads = append(l.Threads, tid)
	l.Categories = append(l.Categories, c)
	l.Weights = append(l.Weights, weight)
}

// TotalWeight sums the weights of all entries.
func (l *List) TotalWeight() uint64 {
	var total uint64
	for _, w := range l.Weights {
		total += w
	}
	return total
}
