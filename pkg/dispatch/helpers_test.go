package dispatch

import (
	"context"
	"fmt"
	"sync"

	herrors "github.com/wehubfusion/Herald/pkg/errors"
	"github.com/wehubfusion/Herald/pkg/job"
	"github.com/wehubfusion/Herald/pkg/segment"
)

// recordingExecutor answers every job with "id-<text>" unless its text is
// listed in fail.
type recordingExecutor struct {
	mu     sync.Mutex
	calls  [][]*job.Job
	fail   map[string]bool
	onCall func(jobs []*job.Job)
}

func newRecordingExecutor(fail ...string) *recordingExecutor {
	e := &recordingExecutor{fail: make(map[string]bool)}
	for _, f := range fail {
		e.fail[f] = true
	}
	return e
}

func (e *recordingExecutor) Execute(_ context.Context, jobs []*job.Job) ([]*job.Result, error) {
	e.mu.Lock()
	e.calls = append(e.calls, jobs)
	hook := e.onCall
	e.mu.Unlock()
	if hook != nil {
		hook(jobs)
	}

	results := make([]*job.Result, len(jobs))
	for i, j := range jobs {
		text := textOf(j)
		if e.fail[text] {
			results[i] = &job.Result{Code: 400, Err: fmt.Errorf("platform rejected %q", text)}
			continue
		}
		results[i] = job.Succeeded("id-" + text)
	}
	return results, nil
}

func (e *recordingExecutor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func (e *recordingExecutor) texts() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for _, call := range e.calls {
		for _, j := range call {
			out = append(out, textOf(j))
		}
	}
	return out
}

func textOf(j *job.Job) string {
	s, _ := j.Request.Params["text"].(string)
	return s
}

func textJob(target job.Target, text string) *job.Job {
	return &job.Job{
		Target:  target,
		Request: job.Request{Method: "POST", URL: "me/messages", Params: map[string]any{"text": text}},
	}
}

// textCompiler compiles one message job per text segment.
func textCompiler() job.Compiler {
	return job.CompilerFunc(func(_ context.Context, target job.Target, segs []segment.Segment, _ job.KeyGenerator) ([]*job.Job, error) {
		jobs := make([]*job.Job, 0, len(segs))
		for _, s := range segs {
			if s.Kind != segment.KindText {
				return nil, herrors.NewJobCompileError(target.UID(), "unsupported segment "+s.Kind.String(), nil)
			}
			jobs = append(jobs, textJob(target, s.Text()))
		}
		return jobs, nil
	})
}

func successResponse(frame *job.Frame) (*Response, error) {
	results := make([]*job.Result, len(frame.Jobs))
	for i := range results {
		results[i] = job.Succeeded(nil)
	}
	return aggregate(frame.Jobs, results, nil)
}
