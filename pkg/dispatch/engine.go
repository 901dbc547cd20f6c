package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	herrors "github.com/wehubfusion/Herald/pkg/errors"
	"github.com/wehubfusion/Herald/pkg/job"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/wehubfusion/Herald/pkg/dispatch"

// Engine executes one frame at a time: it runs the middleware chain, splits
// the frame into batches and resolves result-key dependencies between them.
type Engine struct {
	executor Executor
	config   *Config
	handler  ExecuteFunc
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewEngine creates an engine. The first middleware is the outermost.
func NewEngine(executor Executor, config *Config, logger *zap.Logger, middlewares ...Middleware) (*Engine, error) {
	if executor == nil {
		return nil, errors.New("executor cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		executor: executor,
		config:   config,
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
	}
	e.handler = Chain(middlewares...)(e.execute)
	return e, nil
}

// SetLogger replaces the engine logger.
func (e *Engine) SetLogger(logger *zap.Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// Execute runs frame through the middleware chain. The response is always
// returned; the error is a *DispatchError when any job failed.
func (e *Engine) Execute(ctx context.Context, frame *job.Frame) (*Response, error) {
	if frame == nil {
		return nil, errors.New("frame cannot be nil")
	}
	return e.handler(ctx, frame)
}

// execute is the innermost handler. Frames that were not built by the
// dispatcher are validated here too; an invalid frame is never sent.
func (e *Engine) execute(ctx context.Context, frame *job.Frame) (*Response, error) {
	graph, err := job.NewGraph(frame.Jobs)
	if err != nil {
		e.logger.Warn("Rejected invalid frame",
			zap.String("frame_id", frame.ID),
			zap.Error(err))
		return rejected(frame, err)
	}

	results := make([]*job.Result, len(frame.Jobs))
	cache := job.NewResultCache()

	for n, batch := range graph.Partition(e.config.MaxBatchSize) {
		e.runBatch(ctx, frame, n, batch, results, cache)
	}
	return aggregate(frame.Jobs, results, nil)
}

func (e *Engine) runBatch(ctx context.Context, frame *job.Frame, n int, batch []int, results []*job.Result, cache *job.ResultCache) {
	ctx, span := e.tracer.Start(ctx, "herald.batch",
		trace.WithAttributes(
			attribute.String("frame.id", frame.ID),
			attribute.Int("batch.index", n),
			attribute.Int("batch.size", len(batch)),
		))
	defer span.End()

	var (
		send    []*job.Job
		sendIdx []int
	)
	for _, i := range batch {
		j := frame.Jobs[i]
		req, err := e.accomplish(j, cache)
		if err != nil {
			results[i] = job.Failed(err)
			continue
		}
		sent := *j
		sent.Request = req
		send = append(send, &sent)
		sendIdx = append(sendIdx, i)
	}

	if len(send) > 0 {
		for k, r := range e.call(ctx, send) {
			results[sendIdx[k]] = r
		}
	}

	failed := 0
	for _, i := range batch {
		if key := frame.Jobs[i].RegisterResult; key != "" {
			cache.Put(key, results[i])
		}
		if !results[i].Success {
			failed++
		}
	}

	span.SetAttributes(attribute.Int("batch.sent", len(send)), attribute.Int("batch.failed", failed))
	if failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d jobs failed", failed))
	} else {
		span.SetStatus(codes.Ok, "")
	}
}

// accomplish returns the request to send for j, filling in consumed results.
func (e *Engine) accomplish(j *job.Job, cache *job.ResultCache) (job.Request, error) {
	if j.ConsumeResult == nil || len(j.ConsumeResult.Keys) == 0 {
		return j.Request, nil
	}
	values, missing := cache.Resolve(j.ConsumeResult.Keys)
	if len(missing) > 0 {
		return job.Request{}, &herrors.DependencyUnresolvedError{Keys: missing}
	}
	if j.ConsumeResult.Accomplish == nil {
		return job.Request{}, herrors.NewError(herrors.CodeExecuteFailed, "consumer has no accomplish function", nil)
	}
	req, err := j.ConsumeResult.Accomplish(j.Request.Clone(), values)
	if err != nil {
		return job.Request{}, herrors.NewError(herrors.CodeExecuteFailed, "accomplish request", err)
	}
	return req, nil
}

// call invokes the executor once and always returns one result per job.
func (e *Engine) call(ctx context.Context, jobs []*job.Job) []*job.Result {
	if e.config.ExecuteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.ExecuteTimeout)
		defer cancel()
	}

	start := time.Now()
	results, err := e.executor.Execute(ctx, jobs)
	if err == nil && len(results) != len(jobs) {
		err = fmt.Errorf("executor returned %d results for %d jobs", len(results), len(jobs))
	}
	if err != nil {
		e.logger.Warn("Batch execution failed",
			zap.Int("jobs", len(jobs)),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", herrors.ErrTimeout, err)
		}
		err = fmt.Errorf("%w: %w", herrors.ErrBatchFailed, err)
		out := make([]*job.Result, len(jobs))
		for i := range out {
			out[i] = job.Failed(herrors.NewError(herrors.CodeExecuteFailed, "execute batch", err))
		}
		return out
	}

	for i, r := range results {
		if r == nil {
			results[i] = job.Failed(herrors.NewError(herrors.CodeExecuteFailed, "executor returned no result", nil))
		}
	}
	e.logger.Debug("Batch executed",
		zap.Int("jobs", len(jobs)),
		zap.Duration("duration", time.Since(start)))
	return results
}
