package frame

import (
	"path"
	"strconv"
)

type (
	// Handle is the host runtime's opaque identity for a call site. Handles
	// are only meaningful to the runtime that produced them.
	Handle uintptr

	// Frame is one entry of a captured call stack.
	Frame struct {
		Handle Handle
		Line   int32
	}

	// Info is the symbolic form of a Frame, resolved lazily after sampling
	// stopped.
	Info struct {
		Label     string `json:"label"`
		File      string `json:"file"`
		FirstLine int    `json:"first_line"`
	}
)

func (f Frame) String() string {
	return "0x" + strconv.FormatUint(uint64(f.Handle), 16) + ":" + strconv.Itoa(int(f.Line))
}

// ShortFile returns the base name of the file, or "-" if unknown.
func (i Info) ShortFile() string {
	if i.File == "" {
		return "-"
	}
	return path.Base(i.File)
}

// Name returns the label, falling back to a placeholder for frames the
// runtime could not name.
func (i Info) Name() string {
	if i.Label == "" {
		return "<unknown>"
	}
	return i.Label
}
