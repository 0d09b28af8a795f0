// Package fieldpath reads and writes dot-notation paths ("section.sub.field",
// "section.items.0.name") on generic JSON trees built from map[string]any and []any.
package fieldpath

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var ErrInvalidPath = errors.New("invalid field path")

// Split breaks path into segments. Empty segments and segments with surrounding
// whitespace are rejected, so a path always names exactly one key sequence.
func Split(path string) ([]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrInvalidPath
	}
	segs := strings.Split(path, ".")
	for _, s := range segs {
		if s == "" || strings.TrimSpace(s) != s {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return segs, nil
}

func Join(segs ...string) string { return strings.Join(segs, ".") }

// Get returns the value at path. Missing keys, out-of-range indexes and walks
// through scalars report ok=false instead of failing.
func Get(tree map[string]any, path string) (any, bool) {
	segs, err := Split(path)
	if err != nil {
		return nil, false
	}
	var cur any = tree
	for _, seg := range segs {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Set writes value at path, creating intermediate objects for missing or scalar
// segments. Array segments must address an existing element. tree is mutated; callers
// that need purity clone first.
func Set(tree map[string]any, path string, value any) error {
	if tree == nil {
		return errors.New("nil tree")
	}
	segs, err := Split(path)
	if err != nil {
		return err
	}
	var cur any = tree
	for i, seg := range segs {
		last := i == len(segs)-1
		switch node := cur.(type) {
		case map[string]any:
			if last {
				node[seg] = value
				return nil
			}
			next, ok := node[seg]
			switch next.(type) {
			case map[string]any, []any:
			default:
				ok = false
			}
			if !ok {
				next = map[string]any{}
				node[seg] = next
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return fmt.Errorf("%w: index %q out of range at %q", ErrInvalidPath, seg, Join(segs[:i+1]...))
			}
			if last {
				node[idx] = value
				return nil
			}
			switch node[idx].(type) {
			case map[string]any, []any:
			default:
				node[idx] = map[string]any{}
			}
			cur = node[idx]
		default:
			return fmt.Errorf("%w: cannot descend into %T at %q", ErrInvalidPath, cur, Join(segs[:i]...))
		}
	}
	return nil
}

// Clone deep-copies maps and slices of a JSON tree; scalars are shared.
func Clone(v any) any {
	switch node := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(node))
		for k, child := range node {
			out[k] = Clone(child)
		}
		return out
	case []any:
		out := make([]any, len(node))
		for i, child := range node {
			out[i] = Clone(child)
		}
		return out
	default:
		return v
	}
}

func CloneTree(tree map[string]any) map[string]any {
	if tree == nil {
		return nil
	}
	return Clone(tree).(map[string]any)
}

// Visitor is called for every leaf in deterministic (sorted key, ascending index)
// order. Returning false from Enter skips a container and everything below it.
type Visitor struct {
	Enter func(path string) bool
	Leaf  func(path string, value any)
}

func Walk(tree map[string]any, v Visitor) {
	walk("", tree, v)
}

func walk(path string, node any, v Visitor) {
	if path != "" && v.Enter != nil {
		switch node.(type) {
		case map[string]any, []any:
			if !v.Enter(path) {
				return
			}
		}
	}
	switch n := node.(type) {
	case map[string]any:
		if len(n) == 0 && path != "" {
			leaf(path, n, v)
			return
		}
		keys := make([]string, 0, len(n))
		for k := range n {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			walk(child(path, k), n[k], v)
		}
	case []any:
		if len(n) == 0 {
			leaf(path, n, v)
			return
		}
		for i, c := range n {
			walk(child(path, strconv.Itoa(i)), c, v)
		}
	default:
		leaf(path, n, v)
	}
}

func leaf(path string, value any, v Visitor) {
	if v.Leaf != nil {
		v.Leaf(path, value)
	}
}

func child(parent, seg string) string {
	if parent == "" {
		return seg
	}
	return parent + "." + seg
}

// Flatten maps every leaf path to its value.
func Flatten(tree map[string]any) map[string]any {
	out := map[string]any{}
	Walk(tree, Visitor{Leaf: func(path string, value any) { out[path] = value }})
	return out
}
