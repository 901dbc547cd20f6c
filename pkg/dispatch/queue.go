package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/wehubfusion/Herald/pkg/job"
	"github.com/wehubfusion/Herald/pkg/node"
	"go.uber.org/zap"
)

// ErrQueueClosed is returned for submissions after Close.
var ErrQueueClosed = errors.New("dispatch queue closed")

// Step is one unit of work of a ticket. Wait, if set, runs before Frame; a
// step may carry only a wait.
type Step struct {
	Wait  node.WaitFunc
	Frame *job.Frame
}

// Ticket is the handle of one submission. Its steps run back to back on the
// target's queue; once a step fails the remaining frames are skipped and
// their results stay nil.
type Ticket struct {
	ctx   context.Context
	steps []Step

	done chan struct{}
	resp *Response
	err  error
}

// Done is closed once every step ran or was skipped.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Wait blocks until the ticket completes or ctx is done. The ticket keeps
// running when ctx ends first.
func (t *Ticket) Wait(ctx context.Context) (*Response, error) {
	select {
	case <-t.done:
		return t.resp, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type targetQueue struct {
	pending   []*Ticket
	executing bool
}

// Queue serializes tickets per target. The first submission onto an idle
// target starts a goroutine that owns that target until its FIFO is empty;
// later submissions only append. Different targets run concurrently.
type Queue struct {
	execute ExecuteFunc
	logger  *zap.Logger

	mu      sync.Mutex
	targets map[string]*targetQueue
	idle    chan struct{}
	closed  bool
}

// NewQueue creates a queue running frames through execute, usually
// Engine.Execute.
func NewQueue(execute ExecuteFunc, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		execute: execute,
		logger:  logger,
		targets: make(map[string]*targetQueue),
		idle:    make(chan struct{}),
	}
}

// SetLogger replaces the queue logger.
func (q *Queue) SetLogger(logger *zap.Logger) {
	if logger != nil {
		q.logger = logger
	}
}

// Enqueue submits a single frame and waits for its response.
func (q *Queue) Enqueue(ctx context.Context, frame *job.Frame) (*Response, error) {
	if frame == nil {
		return nil, errors.New("frame cannot be nil")
	}
	return q.Submit(ctx, frame.Target, Step{Frame: frame}).Wait(ctx)
}

// Submit appends steps to target's queue. Steps execute detached from ctx
// cancellation; ctx only carries values such as the trace context.
func (q *Queue) Submit(ctx context.Context, target job.Target, steps ...Step) *Ticket {
	t := &Ticket{
		ctx:   context.WithoutCancel(ctx),
		steps: steps,
		done:  make(chan struct{}),
	}

	var uid string
	if target != nil {
		uid = target.UID()
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		t.resp, t.err = aggregate(nil, nil, ErrQueueClosed)
		close(t.done)
		return t
	}
	tq, ok := q.targets[uid]
	if !ok {
		tq = &targetQueue{}
		q.targets[uid] = tq
	}
	tq.pending = append(tq.pending, t)
	start := !tq.executing
	tq.executing = true
	q.mu.Unlock()

	if start {
		go q.run(uid, tq)
	}
	return t
}

// Drain blocks until every submitted ticket completed or ctx is done.
func (q *Queue) Drain(ctx context.Context) error {
	for {
		q.mu.Lock()
		if len(q.targets) == 0 {
			q.mu.Unlock()
			return nil
		}
		idle := q.idle
		q.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close rejects new submissions and drains the queue.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	return q.Drain(ctx)
}

// run owns target uid until its FIFO is empty.
func (q *Queue) run(uid string, tq *targetQueue) {
	for {
		q.mu.Lock()
		if len(tq.pending) == 0 {
			tq.executing = false
			delete(q.targets, uid)
			if len(q.targets) == 0 {
				close(q.idle)
				q.idle = make(chan struct{})
			}
			q.mu.Unlock()
			return
		}
		t := tq.pending[0]
		tq.pending = tq.pending[1:]
		q.mu.Unlock()

		q.runTicket(uid, t)
	}
}

func (q *Queue) runTicket(uid string, t *Ticket) {
	defer close(t.done)

	var (
		jobs    []*job.Job
		results []*job.Result
		cause   error
		failed  bool
	)
	for _, step := range t.steps {
		if step.Wait != nil && !failed {
			if err := q.wait(t.ctx, step.Wait); err != nil {
				q.logger.Warn("Pause failed, skipping remaining frames",
					zap.String("target", uid),
					zap.Error(err))
				failed = true
				cause = fmt.Errorf("pause: %w", err)
			}
		}
		if step.Frame == nil {
			continue
		}

		frame := step.Frame
		jobs = append(jobs, frame.Jobs...)
		if failed {
			results = append(results, make([]*job.Result, len(frame.Jobs))...)
			continue
		}

		resp, err := q.execute(t.ctx, frame)
		results = append(results, frameResults(frame, resp, err)...)
		if err != nil {
			failed = true
			var dispatchErr *DispatchError
			if errors.As(err, &dispatchErr) {
				cause = dispatchErr.Cause
			} else {
				cause = err
			}
		}
	}

	t.resp, t.err = aggregate(jobs, results, cause)
	if t.err == nil && failed {
		t.resp.Success = false
		t.err = &DispatchError{Jobs: jobs, Results: results}
	}
}

// wait runs a pause wait and converts a panic into an error.
func (q *Queue) wait(ctx context.Context, fn node.WaitFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic recovered: %v", r)
		}
	}()
	return fn(ctx)
}

// frameResults returns exactly one result slot per frame job.
func frameResults(frame *job.Frame, resp *Response, err error) []*job.Result {
	if resp != nil && len(resp.Results) == len(frame.Jobs) {
		return resp.Results
	}
	var dispatchErr *DispatchError
	if errors.As(err, &dispatchErr) && len(dispatchErr.Results) == len(frame.Jobs) {
		return dispatchErr.Results
	}
	return make([]*job.Result, len(frame.Jobs))
}
