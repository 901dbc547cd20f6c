// Package render turns a node tree into an ordered list of segments using the
// native render functions registered by a platform.
package render

import (
	"context"

	"github.com/spf13/cast"
	herrors "github.com/wehubfusion/Herald/pkg/errors"
	"github.com/wehubfusion/Herald/pkg/node"
	"github.com/wehubfusion/Herald/pkg/segment"
	"go.uber.org/zap"
)

// Renderer renders trees for one platform. It has no side effects: a render
// either returns every segment or an error, and nothing is dispatched in
// between.
type Renderer struct {
	registry *Registry
	logger   *zap.Logger
}

// NewRenderer creates a renderer backed by registry.
func NewRenderer(registry *Registry, logger *zap.Logger) *Renderer {
	if registry == nil {
		registry = NewRegistry("")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{registry: registry, logger: logger}
}

// SetLogger sets a custom zap logger for the renderer
func (r *Renderer) SetLogger(logger *zap.Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Registry returns the registry used by the renderer.
func (r *Renderer) Registry() *Registry {
	return r.registry
}

// Render renders tree from the root path. A nil result means there is nothing
// to send; an empty non-nil result means a native rendered to no segments. Part segments left at the top level are rejected because no unit
// consumed them.
func (r *Renderer) Render(ctx context.Context, tree node.Node) ([]segment.Segment, error) {
	segs, err := r.RenderAt(ctx, tree, node.RootPath)
	if err != nil {
		r.logger.Debug("Render failed", zap.String("platform", r.registry.Platform()), zap.Error(err))
		return nil, err
	}

	for _, seg := range segs {
		if seg.Kind == segment.KindPart {
			return nil, &herrors.RenderError{
				Path:    seg.Path,
				Tag:     seg.Node.Tag,
				Message: "part segment must be consumed by an enclosing unit",
			}
		}
	}

	r.logger.Debug("Rendered tree",
		zap.String("platform", r.registry.Platform()),
		zap.Int("segments", len(segs)))
	return segs, nil
}

// RenderAt renders n as if it sat at path. Provider values already attached
// to ctx stay visible. The result is nil when nothing was emitted and a
// non-nil empty slice when a native returned an empty one.
func (r *Renderer) RenderAt(ctx context.Context, n node.Node, path string) ([]segment.Segment, error) {
	var (
		b       segment.Builder
		emitted bool
	)

	err := node.Traverse(n, path, node.ScopeFrom(ctx), func(leaf node.Node, leafPath string, scope *node.Scope) error {
		segs, err := r.renderLeaf(ctx, leaf, leafPath, scope)
		if err != nil {
			return err
		}
		if segs != nil {
			emitted = true
		}
		b.Append(segs...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := b.Build()
	if out == nil && emitted {
		return []segment.Segment{}, nil
	}
	return out, nil
}

func (r *Renderer) renderLeaf(ctx context.Context, n node.Node, path string, scope *node.Scope) ([]segment.Segment, error) {
	switch n.Kind {
	case node.KindText:
		text, err := cast.ToStringE(n.Value)
		if err != nil {
			return nil, &herrors.RenderError{Path: path, Message: "text value is not convertible to string", Err: err}
		}
		return []segment.Segment{segment.Text(n, path, text)}, nil

	case node.KindRaw:
		return []segment.Segment{segment.Raw(n, path, n.Value)}, nil

	case node.KindPause, node.KindThunk:
		return []segment.Segment{segment.Pause(n, path, n.Wait)}, nil

	case node.KindNative:
		fn, ok := r.registry.Lookup(n.Tag)
		if !ok {
			return nil, &herrors.RenderError{Path: path, Tag: n.Tag, Message: "no render function registered for tag"}
		}
		return fn(node.WithScope(ctx, scope), n, path, r.RenderAt)
	}

	return nil, &herrors.RenderError{Path: path, Message: "unknown node kind " + n.Kind.String()}
}
