package render

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/wehubfusion/Herald/pkg/node"
	"github.com/wehubfusion/Herald/pkg/segment"
)

// InnerRender renders a node nested inside a native node. Native functions use
// it to render their children and node-valued props.
type InnerRender func(ctx context.Context, n node.Node, path string) ([]segment.Segment, error)

// NativeFunc turns one native node into segments. Returning nil means nothing
// to emit; a non-nil empty slice is passed through as is.
type NativeFunc func(ctx context.Context, n node.Node, path string, inner InnerRender) ([]segment.Segment, error)

// Registry maps native tags of one platform to their render functions.
type Registry struct {
	platform string
	mu       sync.RWMutex
	funcs    map[string]NativeFunc
}

// NewRegistry creates an empty registry for platform.
func NewRegistry(platform string) *Registry {
	return &Registry{
		platform: platform,
		funcs:    make(map[string]NativeFunc),
	}
}

// Platform returns the platform name the registry was created for.
func (r *Registry) Platform() string {
	return r.platform
}

// Register binds fn to tag. Empty tags, nil functions and duplicate tags are
// rejected here so that render never meets an invalid entry.
func (r *Registry) Register(tag string, fn NativeFunc) error {
	if tag == "" {
		return fmt.Errorf("%s: native tag cannot be empty", r.platform)
	}
	if fn == nil {
		return fmt.Errorf("%s: render function for <%s> cannot be nil", r.platform, tag)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.funcs[tag]; exists {
		return fmt.Errorf("%s: native tag <%s> already registered", r.platform, tag)
	}
	r.funcs[tag] = fn
	return nil
}

// MustRegister is Register that panics on error, for package init wiring.
func (r *Registry) MustRegister(tag string, fn NativeFunc) {
	if err := r.Register(tag, fn); err != nil {
		panic(err)
	}
}

// Lookup returns the render function for tag.
func (r *Registry) Lookup(tag string) (NativeFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[tag]
	return fn, ok
}

// Tags returns the registered tags in sorted order.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.funcs))
	for tag := range r.funcs {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
