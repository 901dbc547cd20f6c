package assets

import (
	"context"
	"fmt"

	"github.com/spf13/cast"
	"github.com/tidwall/gjson"
	"github.com/wehubfusion/Herald/pkg/dispatch"
	"github.com/wehubfusion/Herald/pkg/job"
	"go.uber.org/zap"
)

// idPaths are the response fields holding a reusable id, most specific first.
var idPaths = []string{"attachment_id", "id"}

// SaveMiddleware stores the id returned by every successful job carrying an
// asset tag. Store failures are logged and never fail the frame.
func SaveMiddleware(store Store, logger *zap.Logger) dispatch.Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next dispatch.ExecuteFunc) dispatch.ExecuteFunc {
		return func(ctx context.Context, frame *job.Frame) (*dispatch.Response, error) {
			resp, err := next(ctx, frame)
			if resp == nil {
				return resp, err
			}
			for i, j := range resp.Jobs {
				if j == nil || j.AssetTag == "" || i >= len(resp.Results) {
					continue
				}
				r := resp.Results[i]
				if r == nil || !r.Success {
					continue
				}
				id, ok := ExtractID(r.Value)
				if !ok {
					logger.Warn("Asset result has no id", zap.String("tag", j.AssetTag))
					continue
				}
				if saveErr := store.Save(ctx, j.AssetTag, id); saveErr != nil {
					logger.Warn("Failed to save asset id",
						zap.String("tag", j.AssetTag),
						zap.Error(saveErr))
				}
			}
			return resp, err
		}
	}
}

// RewriteFunc turns an upload request into one sending the stored id.
type RewriteFunc func(req job.Request, id string) job.Request

// ReuseMiddleware looks up every job carrying an asset tag before the frame
// is executed and, when an id is stored for the tag, sends rewrite's request
// in place of the upload. Rewritten jobs lose their tag. Lookup failures are
// logged and leave the upload in place.
func ReuseMiddleware(store Store, rewrite RewriteFunc, logger *zap.Logger) dispatch.Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next dispatch.ExecuteFunc) dispatch.ExecuteFunc {
		return func(ctx context.Context, frame *job.Frame) (*dispatch.Response, error) {
			var jobs []*job.Job
			for i, j := range frame.Jobs {
				if j == nil || j.AssetTag == "" {
					continue
				}
				id, ok, err := store.Lookup(ctx, j.AssetTag)
				if err != nil {
					logger.Warn("Asset lookup failed", zap.String("tag", j.AssetTag), zap.Error(err))
					continue
				}
				if !ok {
					continue
				}
				if jobs == nil {
					jobs = append([]*job.Job(nil), frame.Jobs...)
				}
				reused := *j
				reused.Request = rewrite(j.Request.Clone(), id)
				reused.AssetTag = ""
				jobs[i] = &reused
				logger.Debug("Reusing stored asset", zap.String("tag", j.AssetTag), zap.String("id", id))
			}
			if jobs == nil {
				return next(ctx, frame)
			}
			rewritten := *frame
			rewritten.Jobs = jobs
			return next(ctx, &rewritten)
		}
	}
}

// ExtractID returns the reusable id in a job result value: a JSON document
// with an attachment_id or id field, a map with one of those keys, or a bare
// id string.
func ExtractID(value any) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", false
	case string:
		return idFromJSON(v)
	case []byte:
		return idFromJSON(string(v))
	case map[string]any:
		for _, p := range idPaths {
			if id, err := cast.ToStringE(v[p]); err == nil && id != "" {
				return id, true
			}
		}
		return "", false
	}
	s, err := cast.ToStringE(value)
	if err != nil || s == "" {
		return "", false
	}
	return s, true
}

func idFromJSON(s string) (string, bool) {
	if s == "" {
		return "", false
	}
	if !gjson.Valid(s) {
		return s, true
	}
	res := gjson.Parse(s)
	if res.Type == gjson.String || res.Type == gjson.Number {
		return res.String(), true
	}
	for _, p := range idPaths {
		if id := res.Get(p); id.Exists() && id.String() != "" {
			return id.String(), true
		}
	}
	return "", false
}

// Tag builds the conventional asset tag for a media url.
func Tag(kind, url string) string {
	return fmt.Sprintf("%s:%s", kind, url)
}
