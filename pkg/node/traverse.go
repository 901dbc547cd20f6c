package node

import (
	"strconv"

	herrors "github.com/wehubfusion/Herald/pkg/errors"
)

// RootPath is the path of the tree root.
const RootPath = "$"

// ChildPath returns the path of a list item: parent@key for an explicit key,
// parent#index otherwise. Keys and indexes never share a path.
func ChildPath(parent, key string, index int) string {
	if key != "" {
		return parent + "@" + key
	}
	return parent + "#" + strconv.Itoa(index)
}

// PropPath returns the path of a node held in a native prop.
func PropPath(parent, prop string) string {
	return parent + "." + prop
}

// VisitFunc is called for every leaf in tree order.
type VisitFunc func(n Node, path string, scope *Scope) error

// Traverse walks n depth-first. Fragments and providers are structural and
// are flattened; providers push their value onto the scope seen by their
// descendants. Every other non-empty node is visited exactly once. An empty
// prefix means the root path.
//
// Traverse never mutates the tree and may run any number of times over the
// same nodes. A visit error stops the walk and is returned unchanged.
func Traverse(n Node, prefix string, scope *Scope, visit VisitFunc) error {
	if prefix == "" {
		prefix = RootPath
	}
	return traverse(n, prefix, scope, visit)
}

func traverse(n Node, path string, scope *Scope, visit VisitFunc) error {
	switch n.Kind {
	case KindEmpty:
		return nil
	case KindFragment:
		return traverseChildren(n.Children, path, scope, visit)
	case KindProvider:
		return traverseChildren(n.Children, path, scope.With(n.ProvideKey, n.ProvideValue), visit)
	default:
		return visit(n, path, scope)
	}
}

func traverseChildren(children []Node, path string, scope *Scope, visit VisitFunc) error {
	var seen map[string]struct{}
	if len(children) > 1 {
		seen = make(map[string]struct{}, len(children))
	}

	for i, child := range children {
		childPath := ChildPath(path, child.Key, i)
		if seen != nil {
			if _, dup := seen[childPath]; dup {
				return herrors.NewRenderError(childPath, "duplicate key among siblings")
			}
			seen[childPath] = struct{}{}
		}
		if err := traverse(child, childPath, scope, visit); err != nil {
			return err
		}
	}
	return nil
}

// Reduce folds every leaf of n into an accumulator in tree order.
func Reduce[T any](n Node, prefix string, init T, fn func(acc T, leaf Node, path string, scope *Scope) (T, error)) (T, error) {
	acc := init
	err := Traverse(n, prefix, nil, func(leaf Node, path string, scope *Scope) error {
		next, err := fn(acc, leaf, path, scope)
		if err != nil {
			return err
		}
		acc = next
		return nil
	})
	return acc, err
}

// Map applies fn to every leaf of n in tree order.
func Map[T any](n Node, prefix string, fn func(leaf Node, path string, scope *Scope) (T, error)) ([]T, error) {
	return Reduce(n, prefix, []T(nil), func(acc []T, leaf Node, path string, scope *Scope) ([]T, error) {
		v, err := fn(leaf, path, scope)
		if err != nil {
			return nil, err
		}
		return append(acc, v), nil
	})
}

// UsesPositionalKeys reports whether any list of two or more children in n
// contains an item without an explicit key. Such paths shift when the list is
// reordered.
func UsesPositionalKeys(n Node) bool {
	if len(n.Children) > 1 {
		for _, c := range n.Children {
			if c.Key == "" {
				return true
			}
		}
	}
	for _, c := range n.Children {
		if UsesPositionalKeys(c) {
			return true
		}
	}
	for _, v := range n.Props {
		switch p := v.(type) {
		case Node:
			if UsesPositionalKeys(p) {
				return true
			}
		case []Node:
			if UsesPositionalKeys(Fragment(p...)) {
				return true
			}
		}
	}
	return false
}
