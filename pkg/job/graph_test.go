package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	herrors "github.com/wehubfusion/Herald/pkg/errors"
	"github.com/wehubfusion/Herald/pkg/node"
	"github.com/wehubfusion/Herald/pkg/segment"
)

func passThrough(req Request, _ map[string]any) (Request, error) { return req, nil }

func producer(key string) *Job {
	return &Job{Target: StringTarget("t"), Request: Request{Method: "POST", URL: "me/media"}, RegisterResult: key}
}

func consumer(keys ...string) *Job {
	return &Job{
		Target:        StringTarget("t"),
		Request:       Request{Method: "POST", URL: "me/media_publish"},
		ConsumeResult: &ConsumeResult{Keys: keys, Accomplish: passThrough},
	}
}

func TestNewGraph_Topology(t *testing.T) {
	// text, upload (registers k1), publish (consumes k1)
	jobs := []*Job{
		{Target: StringTarget("t"), Request: Request{Method: "POST", URL: "me/messages"}},
		producer("k1"),
		consumer("k1"),
	}

	g, err := NewGraph(jobs)
	require.NoError(t, err)
	assert.Equal(t, 3, g.Len())
	assert.Empty(t, g.Dependencies(0))
	assert.Equal(t, []int{1}, g.Dependencies(2))
	assert.Equal(t, []int{2}, g.Dependents(1))

	p, ok := g.Producer("k1")
	assert.True(t, ok)
	assert.Equal(t, 1, p)
}

func TestNewGraph_FanIn(t *testing.T) {
	jobs := []*Job{producer("a"), producer("b"), producer("c"), consumer("a", "b", "c")}

	g, err := NewGraph(jobs)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, g.Dependencies(3))
	for i := range 3 {
		assert.Equal(t, []int{3}, g.Dependents(i))
	}
}

func TestNewGraph_Invalid(t *testing.T) {
	tests := []struct {
		name string
		jobs []*Job
	}{
		{"duplicate key", []*Job{producer("k"), producer("k")}},
		{"unknown key", []*Job{consumer("missing")}},
		{"consumer before producer", []*Job{consumer("k"), producer("k")}},
		{"self dependency", []*Job{{RegisterResult: "k", ConsumeResult: &ConsumeResult{Keys: []string{"k"}, Accomplish: passThrough}}}},
		{"empty key", []*Job{producer("k"), consumer("")}},
		{"nil accomplish", []*Job{producer("k"), {ConsumeResult: &ConsumeResult{Keys: []string{"k"}}}}},
		{"nil job", []*Job{nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGraph(tt.jobs)
			require.Error(t, err)
			assert.True(t, herrors.IsJobCompile(err))
		})
	}
}

func TestPartition(t *testing.T) {
	t.Run("dependency cuts batch", func(t *testing.T) {
		jobs := []*Job{{}, producer("k1"), consumer("k1"), {}}
		assert.Equal(t, [][]int{{0, 1}, {2, 3}}, Partition(jobs, 0))
	})

	t.Run("max size", func(t *testing.T) {
		jobs := []*Job{{}, {}, {}, {}, {}}
		assert.Equal(t, [][]int{{0, 1}, {2, 3}, {4}}, Partition(jobs, 2))
	})

	t.Run("key from earlier batch does not cut", func(t *testing.T) {
		jobs := []*Job{producer("k"), {}, consumer("k")}
		assert.Equal(t, [][]int{{0, 1}, {2}}, Partition(jobs, 2))
	})

	t.Run("empty", func(t *testing.T) {
		assert.Nil(t, Partition(nil, 10))
	})
}

func TestResultCache(t *testing.T) {
	c := NewResultCache()

	assert.True(t, c.Put("a", Succeeded("id-a")))
	assert.False(t, c.Put("a", Succeeded("other")), "first write wins")
	c.Put("b", Failed(assert.AnError))

	r, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "id-a", r.Value)

	values, missing := c.Resolve([]string{"a"})
	assert.Empty(t, missing)
	assert.Equal(t, map[string]any{"a": "id-a"}, values)

	values, missing = c.Resolve([]string{"a", "b", "c"})
	assert.Nil(t, values)
	assert.Equal(t, []string{"b", "c"}, missing)
}

func TestSplit(t *testing.T) {
	n := node.Text("")
	segs := []segment.Segment{
		segment.Text(n, "$#0", "a"),
		segment.Break(n, "$#1"),
		segment.Text(n, "$#2", "b"),
		segment.Pause(n, "$#3", nil),
		segment.Pause(n, "$#4", nil),
		segment.Text(n, "$#5", "c"),
	}

	chunks := Split(segs)
	require.Len(t, chunks, 4)

	assert.Equal(t, "$#0", chunks[0].Segments[0].Path)
	require.NotNil(t, chunks[0].Boundary)
	assert.Equal(t, segment.KindBreak, chunks[0].Boundary.Kind)

	assert.Equal(t, "$#3", chunks[1].Boundary.Path)
	assert.Empty(t, chunks[2].Segments, "consecutive boundaries keep an empty chunk")
	assert.Equal(t, "$#4", chunks[2].Boundary.Path)

	assert.Nil(t, chunks[3].Boundary)
	assert.Equal(t, "c", chunks[3].Segments[0].Text())

	assert.Nil(t, Split(nil))
}

func TestRequestClone(t *testing.T) {
	req := Request{Method: "POST", URL: "me/messages", Params: map[string]any{"a": 1}}
	cp := req.Clone()
	cp.Params["a"] = 2
	assert.Equal(t, 1, req.Params["a"])
}
