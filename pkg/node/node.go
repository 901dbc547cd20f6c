// Package node defines the declarative message tree rendered by Herald and the
// depth-first traversal shared by the renderer and the generic map/reduce
// helpers.
package node

import (
	"context"
	"fmt"
)

// Kind discriminates the node variants.
type Kind int

const (
	// KindEmpty is the zero value: a conditional that produced nothing.
	KindEmpty Kind = iota
	KindText
	KindFragment
	KindRaw
	KindPause
	KindThunk
	KindProvider
	KindNative
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindText:
		return "text"
	case KindFragment:
		return "fragment"
	case KindRaw:
		return "raw"
	case KindPause:
		return "pause"
	case KindThunk:
		return "thunk"
	case KindProvider:
		return "provider"
	case KindNative:
		return "native"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// WaitFunc is an asynchronous wait or side effect attached to pause and thunk
// nodes.
type WaitFunc func(ctx context.Context) error

// Props holds the properties of a native node. Values may themselves be nodes
// that the native render function renders through its inner render.
type Props map[string]any

// Node is one immutable item of a message tree.
type Node struct {
	Kind Kind

	// Key is the explicit list key. When empty the positional index is used.
	Key string

	// Value holds the text value (text) or the opaque payload (raw).
	Value any

	// Wait is the pause wait or the thunk effect.
	Wait WaitFunc

	// Tag and Props describe a native node.
	Tag   string
	Props Props

	// ProvideKey and ProvideValue are the scoped value of a provider node.
	ProvideKey   any
	ProvideValue any

	Children []Node
}

// Empty returns the node that renders nothing.
func Empty() Node { return Node{} }

// Text creates a text node. The value is coerced to a string at render time.
func Text(v any) Node {
	return Node{Kind: KindText, Value: v}
}

// Fragment groups children without adding semantics of its own.
//
// Children without an explicit key are addressed by position, which is not
// stable when the list is reordered; wrap items with Keyed when the list can
// change shape between renders.
func Fragment(children ...Node) Node {
	return Node{Kind: KindFragment, Children: children}
}

// Raw creates an opaque pass-through node.
func Raw(v any) Node {
	return Node{Kind: KindRaw, Value: v}
}

// Pause creates a pause. A nil wait makes it a pure ordering marker.
func Pause(wait WaitFunc) Node {
	return Node{Kind: KindPause, Wait: wait}
}

// Thunk creates a side-effect-only node; the effect runs in message order.
func Thunk(effect WaitFunc) Node {
	return Node{Kind: KindThunk, Wait: effect}
}

// Provider makes value available under key to every descendant.
func Provider(key, value any, children ...Node) Node {
	return Node{Kind: KindProvider, ProvideKey: key, ProvideValue: value, Children: children}
}

// Native creates a platform-specific node rendered by the function registered
// for tag.
func Native(tag string, props Props, children ...Node) Node {
	return Node{Kind: KindNative, Tag: tag, Props: props, Children: children}
}

// Keyed returns n with an explicit list key.
func Keyed(key string, n Node) Node {
	n.Key = key
	return n
}

// When returns n if cond holds and an empty node otherwise.
func When(cond bool, n Node) Node {
	if !cond {
		return Empty()
	}
	return n
}

// IsEmpty reports whether n renders nothing by construction.
func (n Node) IsEmpty() bool {
	return n.Kind == KindEmpty
}

// Prop returns the named prop of a native node.
func (n Node) Prop(name string) (any, bool) {
	if n.Props == nil {
		return nil, false
	}
	v, ok := n.Props[name]
	return v, ok
}

// StringProp returns the named prop when it is a string.
func (n Node) StringProp(name string) string {
	v, _ := n.Prop(name)
	s, _ := v.(string)
	return s
}

// NodeProp returns the named prop as a node. A slice of nodes is wrapped in a
// fragment; anything else yields an empty node.
func (n Node) NodeProp(name string) Node {
	v, _ := n.Prop(name)
	switch p := v.(type) {
	case Node:
		return p
	case []Node:
		return Fragment(p...)
	case string:
		return Text(p)
	}
	return Empty()
}
