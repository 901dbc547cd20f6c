package node

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	herrors "github.com/wehubfusion/Herald/pkg/errors"
)

type visit struct {
	kind Kind
	path string
}

func collect(t *testing.T, n Node) []visit {
	t.Helper()
	var out []visit
	err := Traverse(n, "", nil, func(leaf Node, path string, _ *Scope) error {
		out = append(out, visit{kind: leaf.Kind, path: path})
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestTraverse_Paths(t *testing.T) {
	tree := Fragment(
		Text("a"),
		Fragment(Text("b"), Keyed("greet", Text("c"))),
		Empty(),
		Native("image", Props{"url": "x"}),
	)

	assert.Equal(t, []visit{
		{KindText, "$#0"},
		{KindText, "$#1#0"},
		{KindText, "$#1@greet"},
		{KindNative, "$#3"},
	}, collect(t, tree))
}

func TestTraverse_SingleLeafAtRoot(t *testing.T) {
	assert.Equal(t, []visit{{KindText, "$"}}, collect(t, Text("hi")))
}

func TestTraverse_CustomPrefix(t *testing.T) {
	var paths []string
	err := Traverse(Fragment(Text("a"), Text("b")), "$#2.buttons", nil, func(_ Node, path string, _ *Scope) error {
		paths = append(paths, path)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"$#2.buttons#0", "$#2.buttons#1"}, paths)
}

func TestTraverse_StableAcrossRuns(t *testing.T) {
	tree := Fragment(Text("a"), Provider("k", 1, Text("b"), Keyed("x", Raw(3))))

	first := collect(t, tree)
	second := collect(t, tree)
	assert.Equal(t, first, second)
}

func TestTraverse_DuplicateKeys(t *testing.T) {
	tree := Fragment(Keyed("a", Text("1")), Keyed("a", Text("2")))

	err := Traverse(tree, "", nil, func(Node, string, *Scope) error { return nil })
	require.Error(t, err)
	assert.True(t, herrors.IsRender(err))
}

func TestTraverse_NumericKeyBesideIndex(t *testing.T) {
	tree := Fragment(Text("first"), Keyed("0", Text("second")), Keyed("1", Text("third")), Text("fourth"))

	assert.Equal(t, []visit{
		{KindText, "$#0"},
		{KindText, "$@0"},
		{KindText, "$@1"},
		{KindText, "$#3"},
	}, collect(t, tree))
}

func TestTraverse_ProviderScope(t *testing.T) {
	tree := Fragment(
		Provider("locale", "en",
			Text("a"),
			Provider("locale", "fr", Text("b")),
			Text("c"),
		),
		Text("d"),
	)

	got := map[string]any{}
	err := Traverse(tree, "", nil, func(leaf Node, path string, scope *Scope) error {
		v, _ := scope.Lookup("locale")
		got[leaf.Value.(string)] = v
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, "en", got["a"])
	assert.Equal(t, "fr", got["b"])
	assert.Equal(t, "en", got["c"], "inner provider must not leak to later siblings")
	assert.Nil(t, got["d"])
}

func TestTraverse_VisitErrorStops(t *testing.T) {
	boom := errors.New("boom")
	count := 0
	err := Traverse(Fragment(Text("a"), Text("b"), Text("c")), "", nil, func(Node, string, *Scope) error {
		count++
		if count == 2 {
			return boom
		}
		return nil
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, count)
}

func TestMapReduce(t *testing.T) {
	tree := Fragment(Text("a"), Pause(nil), Text("b"))

	kinds, err := Map(tree, "", func(leaf Node, _ string, _ *Scope) (string, error) {
		return leaf.Kind.String(), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"text", "pause", "text"}, kinds)

	texts, err := Reduce(tree, "", 0, func(acc int, leaf Node, _ string, _ *Scope) (int, error) {
		if leaf.Kind == KindText {
			acc++
		}
		return acc, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, texts)
}

func TestUsesPositionalKeys(t *testing.T) {
	assert.False(t, UsesPositionalKeys(Text("a")))
	assert.False(t, UsesPositionalKeys(Fragment(Keyed("a", Text("a")), Keyed("b", Text("b")))))
	assert.True(t, UsesPositionalKeys(Fragment(Text("a"), Text("b"))))
	assert.True(t, UsesPositionalKeys(Native("carousel", Props{
		"items": []Node{Text("a"), Text("b")},
	})))
}

func TestWhen(t *testing.T) {
	assert.True(t, When(false, Text("a")).IsEmpty())
	assert.Equal(t, KindText, When(true, Text("a")).Kind)
}

func TestScopeFromContext(t *testing.T) {
	scope := (*Scope)(nil).With("k", "v")
	ctx := WithScope(context.Background(), scope)

	got := ScopeFrom(ctx)
	v, ok := got.Lookup("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
	assert.Equal(t, 1, got.Depth())
	assert.Nil(t, ScopeFrom(context.Background()))
}
