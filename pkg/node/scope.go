package node

import "context"

// Scope is the stack of provider values visible to a node. It is immutable:
// With returns a new scope and leaves the receiver untouched, so leaving a
// provider subtree simply resumes with the parent scope.
type Scope struct {
	parent *Scope
	key    any
	value  any
}

// With pushes a provided value.
func (s *Scope) With(key, value any) *Scope {
	return &Scope{parent: s, key: key, value: value}
}

// Lookup returns the innermost value provided under key.
func (s *Scope) Lookup(key any) (any, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if cur.key == key {
			return cur.value, true
		}
	}
	return nil, false
}

// Depth returns the number of provided values on the stack.
func (s *Scope) Depth() int {
	n := 0
	for cur := s; cur != nil; cur = cur.parent {
		n++
	}
	return n
}

type scopeKey struct{}

// WithScope attaches s to ctx for native render functions.
func WithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFrom returns the scope attached to ctx, or nil.
func ScopeFrom(ctx context.Context) *Scope {
	s, _ := ctx.Value(scopeKey{}).(*Scope)
	return s
}
