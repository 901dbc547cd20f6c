// Package graphapi is the reference platform: native components for Graph
// style messaging and publishing APIs, the compiler turning their segments
// into API calls, and an executor sending calls through the batch endpoint.
package graphapi

import (
	"context"
	"strings"

	herrors "github.com/wehubfusion/Herald/pkg/errors"
	"github.com/wehubfusion/Herald/pkg/node"
	"github.com/wehubfusion/Herald/pkg/render"
	"github.com/wehubfusion/Herald/pkg/segment"
	"go.uber.org/zap"
)

// Platform is the registry and asset record name of this platform.
const Platform = "graphapi"

// Native tags.
const (
	TagImage          = "image"
	TagButtonTemplate = "button_template"
	TagButton         = "button"
	TagMediaPost      = "media_post"
	TagCarousel       = "carousel"
	TagCarouselItem   = "carousel_item"
	TagBreak          = "break"
)

// Carousel limits of the publishing API.
const (
	minCarouselItems = 2
	maxCarouselItems = 10
)

// Image is an image attachment sent as its own message.
type Image struct {
	URL string
}

// Button is one button of a button template.
type Button struct {
	Title   string
	URL     string
	Payload string
}

// ButtonTemplate is a text message with buttons.
type ButtonTemplate struct {
	Text    string
	Buttons []Button
}

// MediaPost is a single image published with a caption.
type MediaPost struct {
	URL     string
	Caption string
}

// CarouselItem is one image of a carousel.
type CarouselItem struct {
	URL string
}

// Carousel is a multi-image post.
type Carousel struct {
	Caption string
	Items   []CarouselItem
}

// NewRegistry returns a registry holding every native of the platform.
func NewRegistry() *render.Registry {
	reg := render.NewRegistry(Platform)
	reg.MustRegister(TagImage, renderImage)
	reg.MustRegister(TagButton, renderButton)
	reg.MustRegister(TagButtonTemplate, renderButtonTemplate)
	reg.MustRegister(TagMediaPost, renderMediaPost)
	reg.MustRegister(TagCarouselItem, renderCarouselItem)
	reg.MustRegister(TagCarousel, renderCarousel)
	reg.MustRegister(TagBreak, renderBreak)
	return reg
}

// NewRenderer returns a renderer for the platform.
func NewRenderer(logger *zap.Logger) *render.Renderer {
	return render.NewRenderer(NewRegistry(), logger)
}

func renderImage(_ context.Context, n node.Node, path string, _ render.InnerRender) ([]segment.Segment, error) {
	url, err := requireURL(n, path)
	if err != nil {
		return nil, err
	}
	return []segment.Segment{segment.Unit(n, path, Image{URL: url})}, nil
}

func renderButton(ctx context.Context, n node.Node, path string, inner render.InnerRender) ([]segment.Segment, error) {
	title, err := renderTextContent(ctx, n, path, inner, "title")
	if err != nil {
		return nil, err
	}
	if title == "" {
		return nil, &herrors.RenderError{Path: path, Tag: n.Tag, Message: "button needs a title"}
	}
	b := Button{Title: title, URL: n.StringProp("url"), Payload: n.StringProp("payload")}
	if (b.URL == "") == (b.Payload == "") {
		return nil, &herrors.RenderError{Path: path, Tag: n.Tag, Message: "button needs exactly one of url or payload"}
	}
	return []segment.Segment{segment.Part(n, path, b)}, nil
}

func renderButtonTemplate(ctx context.Context, n node.Node, path string, inner render.InnerRender) ([]segment.Segment, error) {
	segs, err := inner(ctx, node.Fragment(n.Children...), path)
	if err != nil {
		return nil, err
	}
	// buttons may also be given as a prop
	propSegs, err := inner(ctx, n.NodeProp("buttons"), node.PropPath(path, "buttons"))
	if err != nil {
		return nil, err
	}
	segs = append(segs, propSegs...)
	if err := render.ExpectKinds(segs, path, segment.KindText, segment.KindPart); err != nil {
		return nil, err
	}

	tmpl := ButtonTemplate{Text: n.StringProp("text")}
	var text strings.Builder
	for _, s := range segs {
		switch s.Kind {
		case segment.KindText:
			text.WriteString(s.Text())
		case segment.KindPart:
			b, ok := s.Value.(Button)
			if !ok {
				return nil, &herrors.RenderError{Path: s.Path, Tag: s.Node.Tag, Message: "only buttons are allowed in a button template"}
			}
			tmpl.Buttons = append(tmpl.Buttons, b)
		}
	}
	if tmpl.Text == "" {
		tmpl.Text = text.String()
	}
	if tmpl.Text == "" {
		return nil, &herrors.RenderError{Path: path, Tag: n.Tag, Message: "button template needs text"}
	}
	if len(tmpl.Buttons) == 0 || len(tmpl.Buttons) > 3 {
		return nil, &herrors.RenderError{Path: path, Tag: n.Tag, Message: "button template needs between 1 and 3 buttons"}
	}
	return []segment.Segment{segment.Unit(n, path, tmpl)}, nil
}

func renderMediaPost(ctx context.Context, n node.Node, path string, inner render.InnerRender) ([]segment.Segment, error) {
	url, err := requireURL(n, path)
	if err != nil {
		return nil, err
	}
	caption, err := renderTextContent(ctx, n, path, inner, "caption")
	if err != nil {
		return nil, err
	}
	return []segment.Segment{segment.Unit(n, path, MediaPost{URL: url, Caption: caption})}, nil
}

func renderCarouselItem(_ context.Context, n node.Node, path string, _ render.InnerRender) ([]segment.Segment, error) {
	url, err := requireURL(n, path)
	if err != nil {
		return nil, err
	}
	return []segment.Segment{segment.Part(n, path, CarouselItem{URL: url})}, nil
}

func renderCarousel(ctx context.Context, n node.Node, path string, inner render.InnerRender) ([]segment.Segment, error) {
	segs, err := inner(ctx, node.Fragment(n.Children...), path)
	if err != nil {
		return nil, err
	}
	if err := render.ExpectKinds(segs, path, segment.KindPart); err != nil {
		return nil, err
	}

	c := Carousel{}
	for _, s := range segs {
		item, ok := s.Value.(CarouselItem)
		if !ok {
			return nil, &herrors.RenderError{Path: s.Path, Tag: s.Node.Tag, Message: "only carousel items are allowed in a carousel"}
		}
		c.Items = append(c.Items, item)
	}
	if len(c.Items) < minCarouselItems || len(c.Items) > maxCarouselItems {
		return nil, &herrors.RenderError{Path: path, Tag: n.Tag, Message: "carousel needs between 2 and 10 items"}
	}

	caption, err := inner(ctx, n.NodeProp("caption"), node.PropPath(path, "caption"))
	if err != nil {
		return nil, err
	}
	if c.Caption, err = render.RenderText(caption, path); err != nil {
		return nil, err
	}
	return []segment.Segment{segment.Unit(n, path, c)}, nil
}

func renderBreak(_ context.Context, n node.Node, path string, _ render.InnerRender) ([]segment.Segment, error) {
	return []segment.Segment{segment.Break(n, path)}, nil
}

// renderTextContent renders the text of a native: the named prop when set,
// its children otherwise.
func renderTextContent(ctx context.Context, n node.Node, path string, inner render.InnerRender, prop string) (string, error) {
	src, srcPath := node.Fragment(n.Children...), path
	if _, ok := n.Prop(prop); ok {
		src, srcPath = n.NodeProp(prop), node.PropPath(path, prop)
	}
	segs, err := inner(ctx, src, srcPath)
	if err != nil {
		return "", err
	}
	return render.RenderText(segs, path)
}

func requireURL(n node.Node, path string) (string, error) {
	url := strings.TrimSpace(n.StringProp("url"))
	if url == "" {
		return "", &herrors.RenderError{Path: path, Tag: n.Tag, Message: "url prop is required"}
	}
	return url, nil
}
