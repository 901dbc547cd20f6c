// Package natsexec executes jobs by handing them to a worker over NATS
// request-reply. The worker owns the platform credentials and answers with
// one result per job.
package natsexec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/tidwall/gjson"
	herrors "github.com/wehubfusion/Herald/pkg/errors"
	"github.com/wehubfusion/Herald/pkg/job"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

// DefaultSubject is the subject workers listen on.
const DefaultSubject = "herald.execute"

// Header names set on every request.
const (
	HeaderTarget = "Herald-Target"
	HeaderJobs   = "Herald-Jobs"
)

// Requester sends a request and waits for the reply. *nats.Conn implements it.
type Requester interface {
	RequestMsgWithContext(ctx context.Context, msg *nats.Msg) (*nats.Msg, error)
}

// Config holds the executor settings.
type Config struct {
	Subject string
	// Timeout bounds one request when the context has no deadline.
	Timeout time.Duration
}

// Executor implements dispatch.Executor over NATS.
type Executor struct {
	conn   Requester
	config Config
	logger *zap.Logger
}

type wireJob struct {
	Request        job.Request `json:"request"`
	RegisterResult string      `json:"register_result,omitempty"`
	AssetTag       string      `json:"asset_tag,omitempty"`
}

type wireBatch struct {
	Target string    `json:"target"`
	Jobs   []wireJob `json:"jobs"`
}

// NewExecutor creates an executor publishing on config.Subject.
func NewExecutor(conn Requester, config Config, logger *zap.Logger) (*Executor, error) {
	if conn == nil {
		return nil, herrors.ErrNotConnected
	}
	if config.Subject == "" {
		config.Subject = DefaultSubject
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{conn: conn, config: config, logger: logger}, nil
}

// SetLogger sets a custom zap logger for the executor
func (e *Executor) SetLogger(logger *zap.Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// Execute implements dispatch.Executor. The reply is a JSON array with one
// {success, code, value, error} entry per job.
func (e *Executor) Execute(ctx context.Context, jobs []*job.Job) ([]*job.Result, error) {
	batch := wireBatch{Jobs: make([]wireJob, len(jobs))}
	for i, j := range jobs {
		if batch.Target == "" && j.Target != nil {
			batch.Target = j.Target.UID()
		}
		batch.Jobs[i] = wireJob{Request: j.Request, RegisterResult: j.RegisterResult, AssetTag: j.AssetTag}
	}
	data, err := json.Marshal(batch)
	if err != nil {
		return nil, herrors.NewError(herrors.CodeExecuteFailed, "failed to marshal jobs", err)
	}

	msg := nats.NewMsg(e.config.Subject)
	msg.Data = data
	msg.Header.Set(HeaderTarget, batch.Target)
	msg.Header.Set(HeaderJobs, fmt.Sprint(len(jobs)))
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(msg.Header))

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()
	}

	reply, err := e.conn.RequestMsgWithContext(ctx, msg)
	if err != nil {
		e.logger.Warn("NATS request failed",
			zap.String("subject", e.config.Subject),
			zap.String("target", batch.Target),
			zap.Error(err))
		return nil, classify(err)
	}

	results, err := ParseReply(reply.Data, len(jobs))
	if err != nil {
		return nil, err
	}
	e.logger.Debug("NATS batch executed",
		zap.String("target", batch.Target),
		zap.Int("jobs", len(jobs)))
	return results, nil
}

// ParseReply maps a worker reply to job results.
func ParseReply(data []byte, n int) ([]*job.Result, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("reply is not valid JSON")
	}
	parsed := gjson.ParseBytes(data)
	if msg := parsed.Get("error"); parsed.IsObject() && msg.Exists() {
		return nil, herrors.NewError(herrors.CodeExecuteFailed, "worker rejected batch", errors.New(msg.String()))
	}

	items := parsed.Array()
	if len(items) != n {
		return nil, fmt.Errorf("reply has %d entries for %d jobs", len(items), n)
	}
	results := make([]*job.Result, n)
	for i, item := range items {
		r := &job.Result{
			Success: item.Get("success").Bool(),
			Code:    int(item.Get("code").Int()),
			Value:   replyValue(item.Get("value")),
		}
		if !r.Success {
			msg := item.Get("error").String()
			if msg == "" {
				msg = "job failed"
			}
			r.Err = errors.New(msg)
		}
		results[i] = r
	}
	return results, nil
}

// replyValue keeps objects and arrays as raw JSON text.
func replyValue(v gjson.Result) any {
	switch {
	case !v.Exists(), v.Type == gjson.Null:
		return nil
	case v.IsObject(), v.IsArray():
		return v.Raw
	}
	return v.Value()
}

func classify(err error) error {
	switch {
	case errors.Is(err, nats.ErrNoResponders), errors.Is(err, nats.ErrConnectionClosed):
		return fmt.Errorf("%w: %w", herrors.ErrNotConnected, err)
	case errors.Is(err, nats.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", herrors.ErrTimeout, err)
	}
	return fmt.Errorf("nats request failed: %w", err)
}
