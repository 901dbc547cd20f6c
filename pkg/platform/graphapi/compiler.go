package graphapi

import (
	"context"
	"fmt"
	"strings"

	"github.com/wehubfusion/Herald/pkg/assets"
	"github.com/wehubfusion/Herald/pkg/dispatch"
	herrors "github.com/wehubfusion/Herald/pkg/errors"
	"github.com/wehubfusion/Herald/pkg/job"
	"github.com/wehubfusion/Herald/pkg/segment"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
)

// Relative endpoints used by compiled jobs.
const (
	MessagesEndpoint     = "me/messages"
	MediaEndpoint        = "me/media"
	MediaPublishEndpoint = "me/media_publish"
)

// Compiler turns graphapi segments into jobs. Consecutive text segments are
// sent as one message. Compiling depends on nothing but the segments, so
// stored asset ids are swapped in at dispatch time by ReuseMiddleware.
type Compiler struct {
	logger *zap.Logger
}

// NewCompiler creates a compiler.
func NewCompiler(logger *zap.Logger) *Compiler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compiler{logger: logger}
}

// SetLogger sets a custom zap logger for the compiler
func (c *Compiler) SetLogger(logger *zap.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// Compile implements job.Compiler.
func (c *Compiler) Compile(_ context.Context, target job.Target, segs []segment.Segment, keys job.KeyGenerator) ([]*job.Job, error) {
	var (
		jobs []*job.Job
		text strings.Builder
	)
	flush := func() {
		if text.Len() == 0 {
			return
		}
		jobs = append(jobs, c.textJob(target, text.String()))
		text.Reset()
	}

	for _, s := range segs {
		if s.Kind == segment.KindText {
			text.WriteString(s.Text())
			continue
		}
		flush()

		switch s.Kind {
		case segment.KindBreak, segment.KindPause:
		case segment.KindUnit:
			unitJobs, err := compileUnit(target, s, keys)
			if err != nil {
				return nil, err
			}
			jobs = append(jobs, unitJobs...)
		case segment.KindRaw:
			j, err := rawJob(target, s)
			if err != nil {
				return nil, err
			}
			jobs = append(jobs, j)
		default:
			return nil, herrors.NewJobCompileError(target.UID(), fmt.Sprintf("%s segment at %s cannot be sent", s.Kind, s.Path), nil)
		}
	}
	flush()

	c.logger.Debug("Compiled segments",
		zap.String("target", target.UID()),
		zap.Int("segments", len(segs)),
		zap.Int("jobs", len(jobs)))
	return jobs, nil
}

func compileUnit(target job.Target, s segment.Segment, keys job.KeyGenerator) ([]*job.Job, error) {
	switch v := s.Value.(type) {
	case Image:
		return []*job.Job{imageJob(target, v)}, nil
	case ButtonTemplate:
		return []*job.Job{buttonTemplateJob(target, v)}, nil
	case MediaPost:
		return mediaPostJobs(target, v, keys), nil
	case Carousel:
		return carouselJobs(target, v, keys), nil
	}
	return nil, herrors.NewJobCompileError(target.UID(), fmt.Sprintf("unsupported unit %T at %s", s.Value, s.Path), nil)
}

func (c *Compiler) textJob(target job.Target, text string) *job.Job {
	return messageJob(target, map[string]any{"text": norm.NFC.String(text)})
}

// imageJob uploads the image as a reusable attachment and tags the job so
// its id gets stored.
func imageJob(target job.Target, img Image) *job.Job {
	j := messageJob(target, attachment("image", map[string]any{"url": img.URL, "is_reusable": true}))
	j.AssetTag = assets.Tag(TagImage, img.URL)
	return j
}

// ReuseAttachment rewrites an attachment upload to send the stored
// attachment id instead. Requests that are not messages are returned as is.
func ReuseAttachment(req job.Request, id string) job.Request {
	msg, ok := req.Params["message"].(map[string]any)
	if !ok {
		return req
	}
	att, ok := msg["attachment"].(map[string]any)
	if !ok {
		return req
	}
	kind, _ := att["type"].(string)
	req.Params["message"] = attachment(kind, map[string]any{"attachment_id": id})
	return req
}

// ReuseMiddleware sends stored attachment ids in place of uploads.
func ReuseMiddleware(store assets.Store, logger *zap.Logger) dispatch.Middleware {
	return assets.ReuseMiddleware(store, ReuseAttachment, logger)
}

func buttonTemplateJob(target job.Target, tmpl ButtonTemplate) *job.Job {
	buttons := make([]any, len(tmpl.Buttons))
	for i, b := range tmpl.Buttons {
		if b.URL != "" {
			buttons[i] = map[string]any{"type": "web_url", "title": b.Title, "url": b.URL}
		} else {
			buttons[i] = map[string]any{"type": "postback", "title": b.Title, "payload": b.Payload}
		}
	}
	return messageJob(target, attachment("template", map[string]any{
		"template_type": "button",
		"text":          norm.NFC.String(tmpl.Text),
		"buttons":       buttons,
	}))
}

// mediaPostJobs creates the media container and publishes it once its id is
// known.
func mediaPostJobs(target job.Target, post MediaPost, keys job.KeyGenerator) []*job.Job {
	container := &job.Job{
		Target: target,
		Request: job.Request{
			Method: "POST",
			URL:    MediaEndpoint,
			Params: map[string]any{"image_url": post.URL, "caption": norm.NFC.String(post.Caption)},
		},
		RegisterResult: keys.NextKey(),
	}
	return []*job.Job{container, publishJob(target, container.RegisterResult)}
}

// carouselJobs creates one container per item, a carousel container over
// their ids, and the publish call.
func carouselJobs(target job.Target, c Carousel, keys job.KeyGenerator) []*job.Job {
	jobs := make([]*job.Job, 0, len(c.Items)+2)
	itemKeys := make([]string, len(c.Items))
	for i, item := range c.Items {
		itemKeys[i] = keys.NextKey()
		jobs = append(jobs, &job.Job{
			Target: target,
			Request: job.Request{
				Method: "POST",
				URL:    MediaEndpoint,
				Params: map[string]any{"image_url": item.URL, "is_carousel_item": true},
			},
			RegisterResult: itemKeys[i],
		})
	}

	parent := &job.Job{
		Target: target,
		Request: job.Request{
			Method: "POST",
			URL:    MediaEndpoint,
			Params: map[string]any{"media_type": "CAROUSEL", "caption": norm.NFC.String(c.Caption)},
		},
		RegisterResult: keys.NextKey(),
		ConsumeResult: &job.ConsumeResult{
			Keys: itemKeys,
			Accomplish: func(req job.Request, values map[string]any) (job.Request, error) {
				children := make([]string, len(itemKeys))
				for i, k := range itemKeys {
					id, err := resultID(values, k)
					if err != nil {
						return req, err
					}
					children[i] = id
				}
				req.Params["children"] = strings.Join(children, ",")
				return req, nil
			},
		},
	}
	jobs = append(jobs, parent, publishJob(target, parent.RegisterResult))
	return jobs
}

func publishJob(target job.Target, containerKey string) *job.Job {
	return &job.Job{
		Target: target,
		Request: job.Request{
			Method: "POST",
			URL:    MediaPublishEndpoint,
			Params: map[string]any{},
		},
		ConsumeResult: &job.ConsumeResult{
			Keys: []string{containerKey},
			Accomplish: func(req job.Request, values map[string]any) (job.Request, error) {
				id, err := resultID(values, containerKey)
				if err != nil {
					return req, err
				}
				req.Params["creation_id"] = id
				return req, nil
			},
		},
	}
}

// rawJob passes a raw segment through. A map becomes the message body.
func rawJob(target job.Target, s segment.Segment) (*job.Job, error) {
	switch v := s.Value.(type) {
	case job.Request:
		return &job.Job{Target: target, Request: v.Clone()}, nil
	case *job.Request:
		if v != nil {
			return &job.Job{Target: target, Request: v.Clone()}, nil
		}
	case map[string]any:
		return messageJob(target, v), nil
	}
	return nil, herrors.NewJobCompileError(target.UID(), fmt.Sprintf("raw value %T at %s is not a request", s.Value, s.Path), nil)
}

func messageJob(target job.Target, message map[string]any) *job.Job {
	return &job.Job{
		Target: target,
		Request: job.Request{
			Method: "POST",
			URL:    MessagesEndpoint,
			Params: map[string]any{
				"recipient": map[string]any{"id": target.UID()},
				"message":   message,
			},
		},
	}
}

func attachment(kind string, payload map[string]any) map[string]any {
	return map[string]any{"attachment": map[string]any{"type": kind, "payload": payload}}
}

func resultID(values map[string]any, key string) (string, error) {
	id, ok := assets.ExtractID(values[key])
	if !ok {
		return "", fmt.Errorf("result %s has no id", key)
	}
	return id, nil
}
