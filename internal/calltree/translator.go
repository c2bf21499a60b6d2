package calltree

import (
	"github.com/getsentry/vernier/internal/frame"
	"github.com/getsentry/vernier/internal/sample"
)

// Translator interns consecutive samples of one thread. It remembers the
// previous sample and only walks the tree for the suffix that changed.
type Translator struct {
	frames  [sample.MaxLen]frame.Frame
	indexes [sample.MaxLen]int
	len     int

	LastStackIndex int
}

func NewTranslator() *Translator {
	return &Translator{LastStackIndex: NoStack}
}

// Translate returns the stack index of s. An empty sample translates to
// NoStack.
func (t *Translator) Translate(l *FrameList, s *sample.Raw) int {
	i := 0
	for ; i < t.len && i < s.Len(); i++ {
		if t.frames[i] != s.Frame(i) {
			break
		}
	}

	node := NoStack
	if i > 0 {
		node = t.indexes[i-1]
	}

	if i < s.Len() {
		l.mu.Lock()
		for ; i < s.Len(); i++ {
			f := s.Frame(i)
			node = l.nextStackNode(node, f)
			t.frames[i] = f
			t.indexes[i] = node
		}
		l.mu.Unlock()
	}
	t.len = i

	t.LastStackIndex = node
	return node
}

// Reset forgets the cached prefix. It must be called whenever the FrameList
// the translator feeds is reset.
func (t *Translator) Reset() {
	t.len = 0
	t.LastStackIndex = NoStack
}
