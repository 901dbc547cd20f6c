package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/getsentry/sentry-go"
	"github.com/wehubfusion/Herald/pkg/concurrency"
	herrors "github.com/wehubfusion/Herald/pkg/errors"
	"github.com/wehubfusion/Herald/pkg/job"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ExecuteFunc executes one frame.
type ExecuteFunc func(ctx context.Context, frame *job.Frame) (*Response, error)

// Middleware wraps an ExecuteFunc to add cross-cutting behavior.
type Middleware func(ExecuteFunc) ExecuteFunc

// Chain chains middlewares so the first one is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next ExecuteFunc) ExecuteFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// RecoveryMiddleware turns a panic during frame execution into a failed
// response. Results of the frame are reported as never attempted.
func RecoveryMiddleware() Middleware {
	return func(next ExecuteFunc) ExecuteFunc {
		return func(ctx context.Context, frame *job.Frame) (resp *Response, err error) {
			defer func() {
				if r := recover(); r != nil {
					resp, err = rejected(frame, fmt.Errorf("panic recovered: %v", r))
				}
			}()
			return next(ctx, frame)
		}
	}
}

// LoggingMiddleware logs every frame execution.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	return func(next ExecuteFunc) ExecuteFunc {
		return func(ctx context.Context, frame *job.Frame) (*Response, error) {
			fields := []zap.Field{
				zap.String("frame_id", frame.ID),
				zap.String("target", targetUID(frame)),
				zap.Int("jobs", len(frame.Jobs)),
			}
			start := time.Now()
			logger.Debug("Executing frame", fields...)

			resp, err := next(ctx, frame)

			fields = append(fields, zap.Duration("duration", time.Since(start)))
			if err != nil {
				if resp != nil {
					fields = append(fields, zap.Int("failed", len(resp.Failed())))
				}
				logger.Error("Frame failed", append(fields, zap.Error(err))...)
				return resp, err
			}
			logger.Info("Frame executed", fields...)
			return resp, nil
		}
	}
}

// TracingMiddleware wraps every frame in a span. A nil tracer uses the global
// provider.
func TracingMiddleware(tracer trace.Tracer) Middleware {
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return func(next ExecuteFunc) ExecuteFunc {
		return func(ctx context.Context, frame *job.Frame) (*Response, error) {
			ctx, span := tracer.Start(ctx, "herald.frame",
				trace.WithSpanKind(trace.SpanKindClient),
				trace.WithAttributes(
					attribute.String("frame.id", frame.ID),
					attribute.String("target", targetUID(frame)),
					attribute.Int("frame.jobs", len(frame.Jobs)),
				))
			defer span.End()

			resp, err := next(ctx, frame)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return resp, err
			}
			span.SetStatus(codes.Ok, "")
			return resp, nil
		}
	}
}

// LimiterMiddleware caps the frames executing at once across all targets.
// While the limiter's circuit breaker is open, frames fail without being sent.
func LimiterMiddleware(limiter *concurrency.Limiter) Middleware {
	return func(next ExecuteFunc) ExecuteFunc {
		return func(ctx context.Context, frame *job.Frame) (*Response, error) {
			var (
				resp    *Response
				execErr error
			)
			err := limiter.GoSync(ctx, func() error {
				resp, execErr = next(ctx, frame)
				return execErr
			})
			if resp == nil && err != nil {
				return rejected(frame, err)
			}
			return resp, execErr
		}
	}
}

// RetryMiddleware re-executes a frame that failed without any job succeeding
// and whose every failure is transient, up to maxTries attempts in total. A
// frame with partial success is never retried because its side effects
// already happened. Jobs skipped for an unresolved dependency follow the
// failure they depend on. policy is called once
// per frame since backoff state is not shared; nil uses exponential backoff.
func RetryMiddleware(maxTries uint, policy func() backoff.BackOff, logger *zap.Logger) Middleware {
	if maxTries < 1 {
		maxTries = 1
	}
	if policy == nil {
		policy = func() backoff.BackOff { return backoff.NewExponentialBackOff() }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next ExecuteFunc) ExecuteFunc {
		return func(ctx context.Context, frame *job.Frame) (*Response, error) {
			var (
				last    *Response
				lastErr error
			)
			operation := func() (*Response, error) {
				last, lastErr = next(ctx, frame)
				if lastErr == nil {
					return last, nil
				}
				if last.Succeeded() || !retryableFrame(lastErr) {
					return last, backoff.Permanent(lastErr)
				}
				return last, lastErr
			}
			notify := func(err error, d time.Duration) {
				logger.Warn("Retrying frame",
					zap.String("frame_id", frame.ID),
					zap.Duration("backoff", d),
					zap.Error(err))
			}

			// The operation records its own outcome; Retry's return values
			// only add context errors.
			_, err := backoff.Retry(ctx, operation,
				backoff.WithBackOff(policy()),
				backoff.WithMaxTries(maxTries),
				backoff.WithNotify(notify))
			if err == nil {
				return last, nil
			}
			if lastErr == nil {
				return rejected(frame, err)
			}
			return last, lastErr
		}
	}
}

// retryableFrame reports whether every failure behind err is transient.
func retryableFrame(err error) bool {
	if errors.Is(err, herrors.ErrCircuitOpen) {
		return false
	}
	var dErr *DispatchError
	if !errors.As(err, &dErr) {
		return herrors.IsRetryable(err)
	}
	if dErr.Cause != nil {
		return herrors.IsRetryable(dErr.Cause)
	}

	transient := false
	for _, r := range dErr.Results {
		if r == nil || r.Success || herrors.IsDependencyUnresolved(r.Err) {
			continue
		}
		if !retryableResult(r) {
			return false
		}
		transient = true
	}
	return transient
}

// retryableResult classifies one failed result by its error, then by the
// status code the platform reported.
func retryableResult(r *job.Result) bool {
	if herrors.IsRetryable(r.Err) {
		return true
	}
	return r.Code == http.StatusTooManyRequests || r.Code >= http.StatusInternalServerError
}

// ReportingMiddleware sends failed frames to Sentry. A nil hub uses the
// current hub.
func ReportingMiddleware(hub *sentry.Hub) Middleware {
	return func(next ExecuteFunc) ExecuteFunc {
		return func(ctx context.Context, frame *job.Frame) (*Response, error) {
			resp, err := next(ctx, frame)
			if err == nil {
				return resp, nil
			}

			h := hub
			if h == nil {
				h = sentry.CurrentHub()
			}
			h.WithScope(func(scope *sentry.Scope) {
				scope.SetTag("target", targetUID(frame))
				scope.SetTag("frame_id", frame.ID)
				scope.SetTag("error_code", herrors.Code(err))
				if resp != nil {
					scope.SetTag("failed_jobs", strconv.Itoa(len(resp.Failed())))
				}
				h.CaptureException(err)
			})
			return resp, err
		}
	}
}

func targetUID(frame *job.Frame) string {
	if frame.Target == nil {
		return ""
	}
	return frame.Target.UID()
}
