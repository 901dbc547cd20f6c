package graphapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cast"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	herrors "github.com/wehubfusion/Herald/pkg/errors"
	"github.com/wehubfusion/Herald/pkg/job"
	"go.uber.org/zap"
)

// MaxBatchCalls is the number of calls the batch endpoint accepts per request.
const MaxBatchCalls = 50

// Config holds the connection settings of the executor.
type Config struct {
	BaseURL     string
	AccessToken string
	Timeout     time.Duration
	RetryCount  int
}

// LoadConfig reads HERALD_GRAPH_BASE_URL, HERALD_GRAPH_ACCESS_TOKEN,
// HERALD_GRAPH_TIMEOUT and HERALD_GRAPH_RETRY_COUNT.
func LoadConfig() Config {
	cfg := Config{
		BaseURL:     "https://graph.facebook.com/v21.0",
		AccessToken: os.Getenv("HERALD_GRAPH_ACCESS_TOKEN"),
		Timeout:     30 * time.Second,
	}
	if v := os.Getenv("HERALD_GRAPH_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("HERALD_GRAPH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Timeout = d
		}
	}
	if v := os.Getenv("HERALD_GRAPH_RETRY_COUNT"); v != "" {
		if n, err := cast.ToIntE(v); err == nil && n >= 0 {
			cfg.RetryCount = n
		}
	}
	return cfg
}

// APIError is the error of one call inside a batch.
type APIError struct {
	Status  int
	Code    int64
	Type    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("graph api returned %d", e.Status)
	}
	return fmt.Sprintf("graph api returned %d: %s (code %d)", e.Status, e.Message, e.Code)
}

// Retryable reports whether the call may succeed when sent again: rate
// limited or server side failures.
func (e *APIError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
}

// Executor sends jobs through the batch endpoint. Each result value is the
// raw JSON body of its call.
type Executor struct {
	client *resty.Client
	config Config
	logger *zap.Logger
}

// NewExecutor creates an executor.
func NewExecutor(config Config, logger *zap.Logger) (*Executor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.BaseURL == "" {
		return nil, fmt.Errorf("graph api base url is required")
	}
	if config.AccessToken == "" {
		return nil, fmt.Errorf("graph api access token is required")
	}

	client := resty.New().
		SetBaseURL(config.BaseURL).
		SetHeader("Accept", "application/json")
	if config.Timeout > 0 {
		client.SetTimeout(config.Timeout)
	}
	if config.RetryCount > 0 {
		client.
			SetRetryCount(config.RetryCount).
			SetRetryWaitTime(500 * time.Millisecond).
			SetRetryMaxWaitTime(5 * time.Second).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				return err != nil || r.StatusCode() >= http.StatusInternalServerError
			})
	}

	return &Executor{client: client, config: config, logger: logger}, nil
}

// SetLogger sets a custom zap logger for the executor
func (e *Executor) SetLogger(logger *zap.Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// Execute implements dispatch.Executor. Job lists longer than MaxBatchCalls
// are sent as consecutive batch requests.
func (e *Executor) Execute(ctx context.Context, jobs []*job.Job) ([]*job.Result, error) {
	results := make([]*job.Result, 0, len(jobs))
	for start := 0; start < len(jobs); start += MaxBatchCalls {
		end := min(start+MaxBatchCalls, len(jobs))
		chunk, err := e.executeBatch(ctx, jobs[start:end])
		if err != nil {
			return nil, err
		}
		results = append(results, chunk...)
	}
	return results, nil
}

func (e *Executor) executeBatch(ctx context.Context, jobs []*job.Job) ([]*job.Result, error) {
	batch, err := BuildBatch(jobs)
	if err != nil {
		return nil, err
	}

	resp, err := e.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"access_token":    e.config.AccessToken,
			"include_headers": "false",
			"batch":           batch,
		}).
		Post("/")
	if err != nil {
		return nil, fmt.Errorf("batch request failed: %w", err)
	}

	body := resp.String()
	if resp.IsError() {
		return nil, apiError(resp.StatusCode(), body)
	}

	results, err := ParseBatchResponse(body, len(jobs))
	if err != nil {
		return nil, err
	}
	e.logger.Debug("Batch executed",
		zap.Int("calls", len(jobs)),
		zap.Duration("duration", resp.Time()))
	return results, nil
}

// BuildBatch encodes jobs as the JSON batch parameter.
func BuildBatch(jobs []*job.Job) (string, error) {
	batch := "[]"
	for i, j := range jobs {
		relative := j.Request.URL
		form, err := encodeParams(j.Request.Params)
		if err != nil {
			return "", herrors.NewError(herrors.CodeExecuteFailed, "encode params of "+relative, err)
		}

		method := j.Request.Method
		if method == "" {
			method = http.MethodPost
		}
		prefix := strconv.Itoa(i)
		if batch, err = sjson.Set(batch, prefix+".method", method); err != nil {
			return "", err
		}
		if method == http.MethodGet || method == http.MethodDelete {
			if form != "" {
				relative += "?" + form
			}
		} else if form != "" {
			if batch, err = sjson.Set(batch, prefix+".body", form); err != nil {
				return "", err
			}
		}
		if batch, err = sjson.Set(batch, prefix+".relative_url", relative); err != nil {
			return "", err
		}
	}
	return batch, nil
}

// ParseBatchResponse maps a batch response to one result per call. A null
// entry is a call the API did not run.
func ParseBatchResponse(body string, n int) ([]*job.Result, error) {
	if !gjson.Valid(body) {
		return nil, fmt.Errorf("batch response is not valid JSON")
	}
	items := gjson.Parse(body).Array()
	if len(items) != n {
		return nil, fmt.Errorf("batch response has %d entries for %d calls", len(items), n)
	}

	results := make([]*job.Result, n)
	for i, item := range items {
		if item.Type == gjson.Null {
			results[i] = job.Failed(fmt.Errorf("call %d was not executed", i))
			continue
		}
		code := int(item.Get("code").Int())
		callBody := item.Get("body").String()
		if code < 200 || code >= 300 {
			results[i] = &job.Result{Code: code, Err: apiError(code, callBody)}
			continue
		}
		results[i] = &job.Result{Success: true, Code: code, Value: callBody}
	}
	return results, nil
}

func apiError(status int, body string) *APIError {
	e := &APIError{Status: status}
	if gjson.Valid(body) {
		errObj := gjson.Get(body, "error")
		e.Code = errObj.Get("code").Int()
		e.Type = errObj.Get("type").String()
		e.Message = errObj.Get("message").String()
	}
	return e
}

func encodeParams(params map[string]any) (string, error) {
	if len(params) == 0 {
		return "", nil
	}
	form := url.Values{}
	for k, v := range params {
		switch val := v.(type) {
		case nil:
			continue
		case map[string]any, []any, []string:
			data, err := json.Marshal(val)
			if err != nil {
				return "", err
			}
			form.Set(k, string(data))
		default:
			s, err := cast.ToStringE(val)
			if err != nil {
				return "", fmt.Errorf("param %s: %w", k, err)
			}
			form.Set(k, s)
		}
	}
	return form.Encode(), nil
}
