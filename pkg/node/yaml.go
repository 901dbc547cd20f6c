package node

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

var nodeFields = []string{"text", "fragment", "raw", "pause", "provider", "native"}

// DecodeYAML builds a tree from a YAML document. A sequence is a fragment, a
// scalar is text, and a mapping names exactly one node field:
//
//	- text: Hello
//	- key: promo
//	  native: image
//	  props: {url: "https://example.com/a.png"}
//	- pause: 1500ms
//	- provider: {key: locale, value: en}
//	  children: [{text: hola}]
//
// Prop values that are themselves node mappings (or sequences of them) decode
// as nodes so that native render functions can render them.
func DecodeYAML(data []byte) (Node, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Node{}, fmt.Errorf("failed to parse tree: %w", err)
	}
	return decodeValue(doc, RootPath)
}

func decodeValue(v any, path string) (Node, error) {
	switch val := v.(type) {
	case nil:
		return Empty(), nil
	case []any:
		children := make([]Node, 0, len(val))
		for i, item := range val {
			child, err := decodeValue(item, ChildPath(path, "", i))
			if err != nil {
				return Node{}, err
			}
			children = append(children, child)
		}
		return Fragment(children...), nil
	case map[string]any:
		return decodeMapping(val, path)
	default:
		return Text(val), nil
	}
}

func decodeMapping(m map[string]any, path string) (Node, error) {
	kind := ""
	for _, f := range nodeFields {
		if _, ok := m[f]; ok {
			if kind != "" {
				return Node{}, fmt.Errorf("node at %s declares both %q and %q", path, kind, f)
			}
			kind = f
		}
	}

	var (
		n   Node
		err error
	)
	switch kind {
	case "text":
		n = Text(m["text"])
	case "raw":
		n = Raw(m["raw"])
	case "fragment":
		n, err = decodeValue(m["fragment"], path)
		if err == nil && n.Kind != KindFragment {
			n = Fragment(n)
		}
	case "pause":
		var wait WaitFunc
		wait, err = decodePause(m["pause"])
		n = Pause(wait)
	case "provider":
		n, err = decodeProvider(m, path)
	case "native":
		n, err = decodeNative(m, path)
	default:
		return Node{}, fmt.Errorf("node at %s has none of %v", path, nodeFields)
	}
	if err != nil {
		return Node{}, err
	}

	if key, ok := m["key"]; ok {
		n.Key = fmt.Sprint(key)
	}
	return n, nil
}

func decodeProvider(m map[string]any, path string) (Node, error) {
	prov, ok := m["provider"].(map[string]any)
	if !ok {
		return Node{}, fmt.Errorf("provider at %s must be a mapping with key and value", path)
	}
	children, err := decodeChildren(m["children"], path)
	if err != nil {
		return Node{}, err
	}
	return Provider(fmt.Sprint(prov["key"]), prov["value"], children...), nil
}

func decodeNative(m map[string]any, path string) (Node, error) {
	tag, ok := m["native"].(string)
	if !ok || tag == "" {
		return Node{}, fmt.Errorf("native at %s must name a tag", path)
	}

	var props Props
	if raw, ok := m["props"].(map[string]any); ok {
		props = make(Props, len(raw))
		names := make([]string, 0, len(raw))
		for name := range raw {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			v, err := decodeProp(raw[name], PropPath(path, name))
			if err != nil {
				return Node{}, err
			}
			props[name] = v
		}
	}

	children, err := decodeChildren(m["children"], path)
	if err != nil {
		return Node{}, err
	}
	return Native(tag, props, children...), nil
}

func decodeChildren(v any, path string) ([]Node, error) {
	if v == nil {
		return nil, nil
	}
	items, ok := v.([]any)
	if !ok {
		items = []any{v}
	}
	children := make([]Node, 0, len(items))
	for i, item := range items {
		child, err := decodeValue(item, ChildPath(path, "", i))
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}

func decodeProp(v any, path string) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		if isNodeMapping(val) {
			n, err := decodeMapping(val, path)
			if err != nil {
				return nil, err
			}
			return n, nil
		}
	case []any:
		if len(val) > 0 && allNodeMappings(val) {
			nodes, err := decodeChildren(val, path)
			if err != nil {
				return nil, err
			}
			return nodes, nil
		}
	}
	return v, nil
}

func isNodeMapping(m map[string]any) bool {
	for _, f := range nodeFields {
		if _, ok := m[f]; ok {
			return true
		}
	}
	return false
}

func allNodeMappings(items []any) bool {
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok || !isNodeMapping(m) {
			return false
		}
	}
	return true
}

func decodePause(v any) (WaitFunc, error) {
	var d time.Duration
	switch val := v.(type) {
	case nil, bool:
		return nil, nil
	case int:
		d = time.Duration(val) * time.Millisecond
	case float64:
		d = time.Duration(val * float64(time.Millisecond))
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return nil, fmt.Errorf("invalid pause duration %q: %w", val, err)
		}
		d = parsed
	default:
		return nil, fmt.Errorf("invalid pause value %v", v)
	}
	if d <= 0 {
		return nil, nil
	}
	return Delay(d), nil
}

// Delay returns a wait that sleeps for d or until ctx is done.
func Delay(d time.Duration) WaitFunc {
	return func(ctx context.Context) error {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	}
}
