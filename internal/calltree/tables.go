package calltree

type (
	// StackTable is indexed by stack index. Parent is NoStack for nodes
	// directly below the root.
	StackTable struct {
		Parent []int `json:"parent"`
		Frame  []int `json:"frame"`
	}

	FrameTable struct {
		Func []int   `json:"func"`
		Line []int32 `json:"line"`
	}

	// FuncTable holds one entry per frame: functions with identical symbols
	// are not merged.
	FuncTable struct {
		Name      []string `json:"name"`
		Filename  []string `json:"filename"`
		FirstLine []int    `json:"first_line"`
	}
)

// StackTable must be called after Finalize.
func (l *FrameList) StackTable() StackTable {
	l.mu.Lock()
	defer l.mu.Unlock()

	t := StackTable{
		Parent: make([]int, 0, len(l.nodes)),
		Frame:  make([]int, 0, len(l.nodes)),
	}
	for _, n := range l.nodes {
		t.Parent = append(t.Parent, n.Parent)
		t.Frame = append(t.Frame, l.frameIndex(n.Frame))
	}
	return t
}

// FrameTable only covers frames resolved by Finalize.
func (l *FrameList) FrameTable() FrameTable {
	l.mu.Lock()
	defer l.mu.Unlock()

	t := FrameTable{
		Func: make([]int, 0, len(l.infos)),
		Line: make([]int32, 0, len(l.infos)),
	}
	for i, f := range l.infos {
		t.Func = append(t.Func, i)
		t.Line = append(t.Line, f.frame.Line)
	}
	return t
}

func (l *FrameList) FuncTable() FuncTable {
	l.mu.Lock()
	defer l.mu.Unlock()

	t := FuncTable{
		Name:      make([]string, 0, len(l.infos)),
		Filename:  make([]string, 0, len(l.infos)),
		FirstLine: make([]int, 0, len(l.infos)),
	}
	for _, f := range l.infos {
		t.Name = append(t.Name, f.info.Label)
		t.Filename = append(t.Filename, f.info.File)
		t.FirstLine = append(t.FirstLine, f.info.FirstLine)
	}
	return t
}
