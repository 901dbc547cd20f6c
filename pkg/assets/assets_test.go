package assets

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wehubfusion/Herald/pkg/dispatch"
	"github.com/wehubfusion/Herald/pkg/job"
	"github.com/wehubfusion/Herald/pkg/storage"
)

// mapStore is a Store backed by a plain map.
type mapStore struct {
	mu      sync.Mutex
	ids     map[string]string
	saveErr   error
	lookupErr error
	lookups   int
}

func newMapStore() *mapStore { return &mapStore{ids: make(map[string]string)} }

func (s *mapStore) Lookup(_ context.Context, tag string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	if s.lookupErr != nil {
		return "", false, s.lookupErr
	}
	id, ok := s.ids[tag]
	return id, ok, nil
}

func (s *mapStore) Save(_ context.Context, tag, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.ids[tag] = id
	return nil
}

// memoryBlobs is an in-memory storage.BlobStorageClient.
type memoryBlobs struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func (m *memoryBlobs) Upload(_ context.Context, path string, data []byte, _ map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.blobs == nil {
		m.blobs = make(map[string][]byte)
	}
	m.blobs[path] = data
	return path, nil
}

func (m *memoryBlobs) Download(_ context.Context, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[path]
	if !ok {
		return nil, storage.ErrBlobNotFound
	}
	return data, nil
}

func TestMemoryStore(t *testing.T) {
	s, err := NewMemoryStore(100, 0)
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	_, ok, err := s.Lookup(ctx, "image:a.png")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Save(ctx, "image:a.png", "att-1"))
	id, ok, err := s.Lookup(ctx, "image:a.png")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "att-1", id)

	assert.Error(t, s.Save(ctx, "", "att-2"))
}

func TestBlobStore(t *testing.T) {
	s := NewBlobStore(storage.NewRecordClient(&memoryBlobs{}, nil), "graph")
	ctx := context.Background()

	_, ok, err := s.Lookup(ctx, "logo")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Save(ctx, "logo", "att-9"))
	id, ok, err := s.Lookup(ctx, "logo")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "att-9", id)
}

func TestTieredStore(t *testing.T) {
	ctx := context.Background()
	front, back := newMapStore(), newMapStore()
	back.ids["logo"] = "att-1"
	s := NewTieredStore(front, back, nil)

	id, ok, err := s.Lookup(ctx, "logo")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "att-1", id)
	assert.Equal(t, "att-1", front.ids["logo"], "durable hit warms the front store")

	_, _, _ = s.Lookup(ctx, "logo")
	assert.Equal(t, 1, back.lookups)

	require.NoError(t, s.Save(ctx, "banner", "att-2"))
	assert.Equal(t, "att-2", back.ids["banner"])
	assert.Equal(t, "att-2", front.ids["banner"])

	back.saveErr = errors.New("down")
	assert.Error(t, s.Save(ctx, "icon", "att-3"))
	assert.NotContains(t, front.ids, "icon")
}

func TestExtractID(t *testing.T) {
	tests := []struct {
		name   string
		value  any
		want   string
		wantOK bool
	}{
		{name: "attachment id", value: `{"attachment_id":"att-1","id":"x"}`, want: "att-1", wantOK: true},
		{name: "message id", value: []byte(`{"id":"m-1"}`), want: "m-1", wantOK: true},
		{name: "json string", value: `"att-2"`, want: "att-2", wantOK: true},
		{name: "bare id", value: "att-3", want: "att-3", wantOK: true},
		{name: "map", value: map[string]any{"id": 42}, want: "42", wantOK: true},
		{name: "numeric", value: 17, want: "17", wantOK: true},
		{name: "object without id", value: `{"ok":true}`},
		{name: "map without id", value: map[string]any{"ok": true}},
		{name: "empty", value: ""},
		{name: "nil", value: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractID(tt.value)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSaveMiddleware(t *testing.T) {
	store := newMapStore()
	target := job.StringTarget("t1")
	frame := job.NewFrame(target, []*job.Job{
		{Target: target, AssetTag: "image:a.png"},
		{Target: target},
		{Target: target, AssetTag: "image:b.png"},
		{Target: target, AssetTag: "image:c.png"},
	})
	next := func(_ context.Context, f *job.Frame) (*dispatch.Response, error) {
		return &dispatch.Response{
			Success: false,
			Jobs:    f.Jobs,
			Results: []*job.Result{
				job.Succeeded(`{"attachment_id":"att-a"}`),
				job.Succeeded(`{"id":"m-1"}`),
				job.Failed(errors.New("rejected")),
				nil,
			},
		}, errors.New("partial")
	}

	resp, err := SaveMiddleware(store, nil)(next)(context.Background(), frame)
	assert.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, map[string]string{"image:a.png": "att-a"}, store.ids)
}

func TestSaveMiddleware_StoreFailureKeepsResponse(t *testing.T) {
	store := newMapStore()
	store.saveErr = errors.New("down")
	target := job.StringTarget("t1")
	frame := job.NewFrame(target, []*job.Job{{Target: target, AssetTag: "image:a.png"}})
	next := func(_ context.Context, f *job.Frame) (*dispatch.Response, error) {
		return &dispatch.Response{Success: true, Jobs: f.Jobs, Results: []*job.Result{job.Succeeded("att-a")}}, nil
	}

	resp, err := SaveMiddleware(store, nil)(next)(context.Background(), frame)
	require.NoError(t, err)
	assert.True(t, resp.Success)
}

func TestReuseMiddleware(t *testing.T) {
	store := newMapStore()
	store.ids["image:a.png"] = "att-a"
	target := job.StringTarget("t1")
	upload := func(url string) job.Request {
		return job.Request{Method: "POST", URL: "upload", Params: map[string]any{"url": url}}
	}
	frame := job.NewFrame(target, []*job.Job{
		{Target: target, Request: upload("a.png"), AssetTag: "image:a.png"},
		{Target: target, Request: upload("b.png"), AssetTag: "image:b.png"},
		{Target: target, Request: upload("c.png")},
	})
	rewrite := func(req job.Request, id string) job.Request {
		req.Params = map[string]any{"id": id}
		return req
	}

	var sent *job.Frame
	next := func(_ context.Context, f *job.Frame) (*dispatch.Response, error) {
		sent = f
		return &dispatch.Response{Success: true, Jobs: f.Jobs}, nil
	}

	_, err := ReuseMiddleware(store, rewrite, nil)(next)(context.Background(), frame)
	require.NoError(t, err)
	require.NotNil(t, sent)
	assert.Equal(t, frame.ID, sent.ID)
	assert.Equal(t, map[string]any{"id": "att-a"}, sent.Jobs[0].Request.Params)
	assert.Empty(t, sent.Jobs[0].AssetTag)
	assert.Same(t, frame.Jobs[1], sent.Jobs[1])
	assert.Same(t, frame.Jobs[2], sent.Jobs[2])
	assert.Equal(t, 2, store.lookups)

	// the submitted frame is not modified
	assert.Equal(t, "image:a.png", frame.Jobs[0].AssetTag)
	assert.Equal(t, map[string]any{"url": "a.png"}, frame.Jobs[0].Request.Params)
}

func TestReuseMiddleware_LookupFailureKeepsUpload(t *testing.T) {
	store := newMapStore()
	store.lookupErr = errors.New("down")
	target := job.StringTarget("t1")
	frame := job.NewFrame(target, []*job.Job{{Target: target, AssetTag: "image:a.png"}})

	var sent *job.Frame
	next := func(_ context.Context, f *job.Frame) (*dispatch.Response, error) {
		sent = f
		return &dispatch.Response{Success: true, Jobs: f.Jobs}, nil
	}
	rewrite := func(job.Request, string) job.Request {
		t.Fatal("rewrite called without a stored id")
		return job.Request{}
	}

	_, err := ReuseMiddleware(store, rewrite, nil)(next)(context.Background(), frame)
	require.NoError(t, err)
	assert.Same(t, frame, sent)
}

func TestTag(t *testing.T) {
	assert.Equal(t, "image:https://x/a.png", Tag("image", "https://x/a.png"))
}
