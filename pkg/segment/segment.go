// Package segment defines the platform-agnostic output of rendering a node.
package segment

import (
	"fmt"

	"github.com/wehubfusion/Herald/pkg/node"
)

// Kind discriminates the segment variants.
type Kind int

const (
	KindText Kind = iota + 1
	// KindBreak forces a frame boundary.
	KindBreak
	// KindPause is a scheduling directive with an optional wait.
	KindPause
	// KindUnit is one platform payload, usually one job.
	KindUnit
	// KindPart is consumed by an enclosing unit and never dispatched alone.
	KindPart
	KindRaw
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindBreak:
		return "break"
	case KindPause:
		return "pause"
	case KindUnit:
		return "unit"
	case KindPart:
		return "part"
	case KindRaw:
		return "raw"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Segment is one rendered item. Node and Path point back to the originating
// node for diagnostics.
type Segment struct {
	Kind  Kind
	Value any
	Wait  node.WaitFunc
	Node  node.Node
	Path  string
}

// Text creates a text segment.
func Text(n node.Node, path, value string) Segment {
	return Segment{Kind: KindText, Value: value, Node: n, Path: path}
}

// Break creates a break segment.
func Break(n node.Node, path string) Segment {
	return Segment{Kind: KindBreak, Node: n, Path: path}
}

// Pause creates a pause segment; wait may be nil.
func Pause(n node.Node, path string, wait node.WaitFunc) Segment {
	return Segment{Kind: KindPause, Wait: wait, Node: n, Path: path}
}

// Unit creates a unit segment.
func Unit(n node.Node, path string, value any) Segment {
	return Segment{Kind: KindUnit, Value: value, Node: n, Path: path}
}

// Part creates a part segment.
func Part(n node.Node, path string, value any) Segment {
	return Segment{Kind: KindPart, Value: value, Node: n, Path: path}
}

// Raw creates a raw segment.
func Raw(n node.Node, path string, value any) Segment {
	return Segment{Kind: KindRaw, Value: value, Node: n, Path: path}
}

// Text returns the value of a text segment.
func (s Segment) Text() string {
	v, _ := s.Value.(string)
	return v
}

// IsBoundary reports whether s ends a frame.
func (s Segment) IsBoundary() bool {
	return s.Kind == KindBreak || s.Kind == KindPause
}
