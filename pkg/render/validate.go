package render

import (
	"fmt"
	"strings"

	herrors "github.com/wehubfusion/Herald/pkg/errors"
	"github.com/wehubfusion/Herald/pkg/segment"
)

// ExpectKinds fails with a RenderError unless every segment has one of kinds.
func ExpectKinds(segs []segment.Segment, path string, kinds ...segment.Kind) error {
	for _, seg := range segs {
		allowed := false
		for _, k := range kinds {
			if seg.Kind == k {
				allowed = true
				break
			}
		}
		if !allowed {
			return &herrors.RenderError{
				Path:    path,
				Tag:     seg.Node.Tag,
				Message: fmt.Sprintf("%s segment at %s is not allowed here, expected %s", seg.Kind, seg.Path, kindList(kinds)),
			}
		}
	}
	return nil
}

// ExpectTextOnly fails unless every segment is text.
func ExpectTextOnly(segs []segment.Segment, path string) error {
	return ExpectKinds(segs, path, segment.KindText)
}

// JoinText concatenates the text segments of segs.
func JoinText(segs []segment.Segment) string {
	var b strings.Builder
	for _, seg := range segs {
		if seg.Kind == segment.KindText {
			b.WriteString(seg.Text())
		}
	}
	return b.String()
}

// RenderText renders segs to text and rejects anything else.
func RenderText(segs []segment.Segment, path string) (string, error) {
	if err := ExpectTextOnly(segs, path); err != nil {
		return "", err
	}
	return JoinText(segs), nil
}

func kindList(kinds []segment.Kind) string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}
	return strings.Join(names, "|")
}
