package dispatch

import (
	"context"
	"errors"
	"fmt"

	herrors "github.com/wehubfusion/Herald/pkg/errors"
	"github.com/wehubfusion/Herald/pkg/job"
	"github.com/wehubfusion/Herald/pkg/node"
	"github.com/wehubfusion/Herald/pkg/render"
	"github.com/wehubfusion/Herald/pkg/segment"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Dispatcher composes render, compile and enqueue for one platform.
type Dispatcher struct {
	renderer *render.Renderer
	compiler job.Compiler
	engine   *Engine
	queue    *Queue
	config   *Config
	newKeys  func() job.KeyGenerator
	logger   *zap.Logger
}

// New creates a dispatcher. A recovery middleware is always installed
// outermost, followed by middlewares in order. When config.RetryMaxTries is
// greater than one a retry middleware is installed innermost.
func New(renderer *render.Renderer, compiler job.Compiler, executor Executor, config *Config, logger *zap.Logger, middlewares ...Middleware) (*Dispatcher, error) {
	if renderer == nil {
		return nil, errors.New("renderer cannot be nil")
	}
	if compiler == nil {
		return nil, errors.New("compiler cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	mws := append([]Middleware{RecoveryMiddleware()}, middlewares...)
	if config.RetryMaxTries > 1 {
		mws = append(mws, RetryMiddleware(uint(config.RetryMaxTries), nil, logger))
	}
	engine, err := NewEngine(executor, config, logger, mws...)
	if err != nil {
		return nil, err
	}

	strategy := config.KeyStrategy
	return &Dispatcher{
		renderer: renderer,
		compiler: compiler,
		engine:   engine,
		queue:    NewQueue(engine.Execute, logger),
		config:   config,
		newKeys:  func() job.KeyGenerator { return job.NewKeyGenerator(strategy) },
		logger:   logger,
	}, nil
}

// SetKeyGenerator replaces the factory called once per dispatch for result
// keys.
func (d *Dispatcher) SetKeyGenerator(newKeys func() job.KeyGenerator) {
	if newKeys != nil {
		d.newKeys = newKeys
	}
}

// SetLogger replaces the logger of the dispatcher, its engine and queue.
func (d *Dispatcher) SetLogger(logger *zap.Logger) {
	if logger == nil {
		return
	}
	d.logger = logger
	d.engine.SetLogger(logger)
	d.queue.SetLogger(logger)
}

// Queue returns the dispatcher's queue, e.g. to enqueue prebuilt frames.
func (d *Dispatcher) Queue() *Queue { return d.queue }

// Render renders tree without dispatching anything.
func (d *Dispatcher) Render(ctx context.Context, tree node.Node) ([]segment.Segment, error) {
	return d.renderer.Render(ctx, tree)
}

// Plan compiles segs into the ordered steps of one dispatch: one frame per
// chunk between boundaries, with pause waits in between. Every chunk is
// compiled before anything is returned, so a compile error leaves nothing
// half-planned.
func (d *Dispatcher) Plan(ctx context.Context, target job.Target, segs []segment.Segment) ([]Step, error) {
	if target == nil {
		return nil, errors.New("target cannot be nil")
	}
	keys := d.newKeys()

	var steps []Step
	for _, chunk := range job.Split(segs) {
		if len(chunk.Segments) > 0 {
			jobs, err := d.compile(ctx, target, chunk.Segments, keys)
			if err != nil {
				return nil, err
			}
			if len(jobs) > 0 {
				steps = append(steps, Step{Frame: job.NewFrame(target, jobs)})
			}
		}
		if chunk.Boundary != nil && chunk.Boundary.Wait != nil {
			steps = append(steps, Step{Wait: chunk.Boundary.Wait})
		}
	}
	return steps, nil
}

func (d *Dispatcher) compile(ctx context.Context, target job.Target, segs []segment.Segment, keys job.KeyGenerator) ([]*job.Job, error) {
	jobs, err := d.compiler.Compile(ctx, target, segs, keys)
	if err == nil {
		_, err = job.NewGraph(jobs)
	}
	if err == nil {
		return jobs, nil
	}

	var compileErr *herrors.JobCompileError
	if errors.As(err, &compileErr) {
		if compileErr.Target == "" {
			compileErr.Target = target.UID()
		}
		return nil, err
	}
	if herrors.IsRender(err) {
		return nil, err
	}
	return nil, herrors.NewJobCompileError(target.UID(), "compile failed", err)
}

// Dispatch renders tree, compiles it for target and waits until every frame
// was executed. Frames of one dispatch are never interleaved with other
// submissions for the same target.
func (d *Dispatcher) Dispatch(ctx context.Context, target job.Target, tree node.Node) (*Response, error) {
	segs, err := d.Render(ctx, tree)
	if err != nil {
		return nil, err
	}
	return d.dispatchSegments(ctx, target, segs)
}

func (d *Dispatcher) dispatchSegments(ctx context.Context, target job.Target, segs []segment.Segment) (*Response, error) {
	if target == nil {
		return nil, errors.New("target cannot be nil")
	}
	steps, err := d.Plan(ctx, target, segs)
	if err != nil {
		d.logger.Warn("Compile failed", zap.String("target", target.UID()), zap.Error(err))
		return nil, err
	}
	if len(steps) == 0 {
		return &Response{Success: true}, nil
	}

	d.logger.Debug("Submitting dispatch",
		zap.String("target", target.UID()),
		zap.Int("steps", len(steps)))
	return d.queue.Submit(ctx, target, steps...).Wait(ctx)
}

// DispatchMany renders tree once and dispatches it to every target
// concurrently. Responses are in target order; the error joins the failures
// of all targets.
func (d *Dispatcher) DispatchMany(ctx context.Context, tree node.Node, targets ...job.Target) ([]*Response, error) {
	segs, err := d.Render(ctx, tree)
	if err != nil {
		return nil, err
	}

	responses := make([]*Response, len(targets))
	errs := make([]error, len(targets))

	var g errgroup.Group
	if d.config.MaxFanOut > 0 {
		g.SetLimit(d.config.MaxFanOut)
	}
	for i, target := range targets {
		g.Go(func() error {
			resp, err := d.dispatchSegments(ctx, target, segs)
			responses[i] = resp
			if err != nil {
				errs[i] = fmt.Errorf("targets[%d]: %w", i, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return responses, errors.Join(errs...)
}

// Close stops accepting dispatches and waits for submitted frames.
func (d *Dispatcher) Close(ctx context.Context) error {
	return d.queue.Close(ctx)
}
