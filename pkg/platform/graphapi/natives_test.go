package graphapi

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	herrors "github.com/wehubfusion/Herald/pkg/errors"
	"github.com/wehubfusion/Herald/pkg/node"
	"github.com/wehubfusion/Herald/pkg/segment"
)

func TestRegistry_Tags(t *testing.T) {
	assert.Equal(t, []string{
		TagBreak, TagButton, TagButtonTemplate, TagCarousel, TagCarouselItem, TagImage, TagMediaPost,
	}, NewRegistry().Tags())
}

func TestRender_Natives(t *testing.T) {
	r := NewRenderer(nil)
	tree := node.Fragment(
		node.Text("hello "),
		node.Text("world"),
		node.Native(TagImage, node.Props{"url": "https://cdn/a.png"}),
		node.Native(TagBreak, nil),
		node.Native(TagButtonTemplate, nil,
			node.Text("Pick one"),
			node.Native(TagButton, node.Props{"url": "https://x"}, node.Text("Open")),
			node.Native(TagButton, node.Props{"payload": "NO", "title": "No"}),
		),
		node.Native(TagMediaPost, node.Props{"url": "https://cdn/p.png", "caption": node.Text("cap")}),
	)

	segs, err := r.Render(context.Background(), tree)
	require.NoError(t, err)
	require.Len(t, segs, 6)

	assert.Equal(t, segment.KindText, segs[0].Kind)
	assert.Equal(t, Image{URL: "https://cdn/a.png"}, segs[2].Value)
	assert.Equal(t, segment.KindBreak, segs[3].Kind)
	assert.Equal(t, ButtonTemplate{
		Text: "Pick one",
		Buttons: []Button{
			{Title: "Open", URL: "https://x"},
			{Title: "No", Payload: "NO"},
		},
	}, segs[4].Value)
	assert.Equal(t, MediaPost{URL: "https://cdn/p.png", Caption: "cap"}, segs[5].Value)
	assert.Equal(t, "$#5", segs[5].Path)
}

func TestRender_Carousel(t *testing.T) {
	tree := node.Native(TagCarousel, node.Props{"caption": "summer"},
		node.Keyed("a", node.Native(TagCarouselItem, node.Props{"url": "https://cdn/a.png"})),
		node.Keyed("b", node.Native(TagCarouselItem, node.Props{"url": "https://cdn/b.png"})),
	)

	segs, err := NewRenderer(nil).Render(context.Background(), tree)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, segment.KindUnit, segs[0].Kind)
	assert.Equal(t, Carousel{
		Caption: "summer",
		Items:   []CarouselItem{{URL: "https://cdn/a.png"}, {URL: "https://cdn/b.png"}},
	}, segs[0].Value)
}

func TestRender_Invalid(t *testing.T) {
	item := func(url string) node.Node {
		return node.Native(TagCarouselItem, node.Props{"url": url})
	}
	button := node.Native(TagButton, node.Props{"payload": "P"}, node.Text("ok"))

	tests := []struct {
		name string
		tree node.Node
	}{
		{name: "image without url", tree: node.Native(TagImage, nil)},
		{name: "standalone button", tree: button},
		{name: "standalone carousel item", tree: item("https://a")},
		{name: "button without title", tree: node.Native(TagButton, node.Props{"payload": "P"})},
		{name: "button with url and payload", tree: node.Native(TagButton, node.Props{"payload": "P", "url": "https://x"}, node.Text("t"))},
		{name: "template without text", tree: node.Native(TagButtonTemplate, nil, button)},
		{name: "template without buttons", tree: node.Native(TagButtonTemplate, node.Props{"text": "t"})},
		{name: "template with image", tree: node.Native(TagButtonTemplate, node.Props{"text": "t"}, button, node.Native(TagImage, node.Props{"url": "https://a"}))},
		{name: "carousel with one item", tree: node.Native(TagCarousel, nil, item("https://a"))},
		{name: "carousel with text", tree: node.Native(TagCarousel, nil, item("https://a"), item("https://b"), node.Text("x"))},
		{name: "carousel with button", tree: node.Native(TagCarousel, nil, item("https://a"), item("https://b"), button)},
		{name: "unknown tag", tree: node.Native("video", nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			segs, err := NewRenderer(nil).Render(context.Background(), tt.tree)
			require.Error(t, err)
			assert.Nil(t, segs)
			assert.True(t, herrors.IsRender(err), "got %v", err)
		})
	}
}
