// Package job describes platform API calls, the result-key dependencies
// between them, and the frames they are dispatched in.
package job

import (
	"context"
	"maps"
	"sync"

	"github.com/google/uuid"
	"github.com/wehubfusion/Herald/pkg/segment"
)

// Target identifies the conversation, thread or channel a frame is addressed
// to. UID is the queue partition key.
type Target interface {
	UID() string
}

// StringTarget is a Target identified by its own value.
type StringTarget string

// UID implements Target.
func (t StringTarget) UID() string { return string(t) }

// Request is one platform API call.
type Request struct {
	Method string         `json:"method"`
	URL    string         `json:"url"`
	Params map[string]any `json:"params,omitempty"`
}

// Clone returns a copy of r whose top-level params can be changed freely.
func (r Request) Clone() Request {
	r.Params = maps.Clone(r.Params)
	return r
}

// AccomplishFunc rewrites a request once the results it depends on are known.
// values holds the result value of every consumed key.
type AccomplishFunc func(req Request, values map[string]any) (Request, error)

// ConsumeResult declares the result keys a job needs before it can be sent.
type ConsumeResult struct {
	Keys       []string
	Accomplish AccomplishFunc
}

// Job is one platform API call descriptor.
type Job struct {
	Target  Target
	Request Request

	// RegisterResult names the key under which a successful result is shared
	// with later jobs of the same frame.
	RegisterResult string

	// ConsumeResult, when set, holds the job back until every key resolved.
	ConsumeResult *ConsumeResult

	// AssetTag marks a job whose result id is worth keeping for reuse.
	AssetTag string
}

// Consumes reports whether the job waits on key.
func (j *Job) Consumes(key string) bool {
	if j.ConsumeResult == nil {
		return false
	}
	for _, k := range j.ConsumeResult.Keys {
		if k == key {
			return true
		}
	}
	return false
}

// Result is the outcome of one job. It is not modified once produced.
type Result struct {
	Success bool
	Code    int
	Value   any
	Err     error
}

// Succeeded creates a successful result.
func Succeeded(value any) *Result {
	return &Result{Success: true, Value: value}
}

// Failed creates a failed result.
func Failed(err error) *Result {
	return &Result{Success: false, Err: err}
}

// Frame is the ordered list of jobs submitted to the engine as one unit.
type Frame struct {
	ID     string
	Target Target
	Jobs   []*Job
}

// NewFrame creates a frame with a fresh id.
func NewFrame(target Target, jobs []*Job) *Frame {
	return &Frame{ID: uuid.NewString(), Target: target, Jobs: jobs}
}

// Compiler turns the segments of one frame into an ordered job list. Every
// job that registers a key must precede the jobs consuming it.
type Compiler interface {
	Compile(ctx context.Context, target Target, segs []segment.Segment, keys KeyGenerator) ([]*Job, error)
}

// CompilerFunc adapts a function to Compiler.
type CompilerFunc func(ctx context.Context, target Target, segs []segment.Segment, keys KeyGenerator) ([]*Job, error)

// Compile implements Compiler.
func (f CompilerFunc) Compile(ctx context.Context, target Target, segs []segment.Segment, keys KeyGenerator) ([]*Job, error) {
	return f(ctx, target, segs, keys)
}

// ResultCache holds the results registered during one frame execution.
type ResultCache struct {
	mu      sync.RWMutex
	results map[string]*Result
}

// NewResultCache creates an empty cache.
func NewResultCache() *ResultCache {
	return &ResultCache{results: make(map[string]*Result)}
}

// Put stores the result for key. An existing entry is kept and false is
// returned.
func (c *ResultCache) Put(key string, r *Result) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.results[key]; exists {
		return false
	}
	c.results[key] = r
	return true
}

// Get returns the result stored for key.
func (c *ResultCache) Get(key string) (*Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.results[key]
	return r, ok
}

// Resolve returns the values of keys when all of them succeeded, and the keys
// that did not otherwise.
func (c *ResultCache) Resolve(keys []string) (map[string]any, []string) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	values := make(map[string]any, len(keys))
	var missing []string
	for _, k := range keys {
		r, ok := c.results[k]
		if !ok || r == nil || !r.Success {
			missing = append(missing, k)
			continue
		}
		values[k] = r.Value
	}
	if len(missing) > 0 {
		return nil, missing
	}
	return values, nil
}
