// Package dispatch executes compiled frames against a platform: it keeps one
// ordered queue per target, splits frames into dependency-safe batches and
// aggregates per-job results into a response or a DispatchError.
package dispatch

import (
	"context"
	"fmt"

	herrors "github.com/wehubfusion/Herald/pkg/errors"
	"github.com/wehubfusion/Herald/pkg/job"
)

// Executor performs the actual platform calls for one batch. It must return
// exactly one result per job, in input order. Platform failures belong in the
// per-job results; a returned error fails the whole batch.
type Executor interface {
	Execute(ctx context.Context, jobs []*job.Job) ([]*job.Result, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, jobs []*job.Job) ([]*job.Result, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, jobs []*job.Job) ([]*job.Result, error) {
	return f(ctx, jobs)
}

// Response is the outcome of a frame or of a whole dispatch. Results[i]
// belongs to Jobs[i] and is nil for a job that was never attempted.
type Response struct {
	Success bool
	Jobs    []*job.Job
	Results []*job.Result
}

// Failed returns the indexes of the jobs that did not succeed, including the
// ones never attempted.
func (r *Response) Failed() []int {
	var idx []int
	for i, res := range r.Results {
		if res == nil || !res.Success {
			idx = append(idx, i)
		}
	}
	return idx
}

// Succeeded reports whether at least one job succeeded.
func (r *Response) Succeeded() bool {
	if r == nil {
		return false
	}
	for _, res := range r.Results {
		if res != nil && res.Success {
			return true
		}
	}
	return false
}

// DispatchError is returned when one or more jobs failed. It carries every job
// and result so callers can see which side effects already happened.
type DispatchError struct {
	Jobs    []*job.Job
	Results []*job.Result
	// Cause is set when the failure did not come from a job result, e.g. a
	// failed pause or a rejected frame.
	Cause error
}

func (e *DispatchError) Error() string {
	failed := 0
	for _, r := range e.Results {
		if r == nil || !r.Success {
			failed++
		}
	}
	msg := fmt.Sprintf("dispatch failed: %d of %d jobs failed", failed, len(e.Jobs))
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *DispatchError) Is(target error) bool { return target == herrors.ErrDispatch }

// Unwrap returns the cause followed by every per-job error.
func (e *DispatchError) Unwrap() []error {
	var errs []error
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	for _, r := range e.Results {
		if r != nil && r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errs
}

// Response returns the failed response the error describes.
func (e *DispatchError) Response() *Response {
	return &Response{Success: false, Jobs: e.Jobs, Results: e.Results}
}

// aggregate builds the response for jobs and results, and a DispatchError
// when any job failed.
func aggregate(jobs []*job.Job, results []*job.Result, cause error) (*Response, error) {
	resp := &Response{Success: cause == nil, Jobs: jobs, Results: results}
	for _, r := range results {
		if r == nil || !r.Success {
			resp.Success = false
			break
		}
	}
	if resp.Success {
		return resp, nil
	}
	return resp, &DispatchError{Jobs: jobs, Results: results, Cause: cause}
}

// rejected fails a frame that never reached the executor.
func rejected(frame *job.Frame, cause error) (*Response, error) {
	return aggregate(frame.Jobs, make([]*job.Result, len(frame.Jobs)), cause)
}
