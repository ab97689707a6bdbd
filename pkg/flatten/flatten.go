// Package flatten converts nested JSON values into single-level records.
package flatten

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
)

const (
	// DefaultSeparator joins path segments.
	DefaultSeparator = "."

	// DefaultMaxDepth is the container nesting ceiling.
	DefaultMaxDepth = 1000
)

// ErrStructureTooDeep is returned when a value nests deeper than Options.MaxDepth.
var ErrStructureTooDeep = errors.New("structure too deep")

// ErrPathCollision is returned when two leaves build the same path, as with
// {"a.b": 1, "a": {"b": 2}} under the default separator.
var ErrPathCollision = errors.New("path collision")

// Record is a flat mapping from key path to scalar value.
type Record map[string]any

// Options controls key construction and the recursion ceiling.
type Options struct {
	// Separator is placed between path segments (default ".").
	Separator string

	// MaxDepth is the maximum container nesting (default 1000).
	MaxDepth int
}

// DefaultOptions returns the default flatten options.
func DefaultOptions() Options {
	return Options{
		Separator: DefaultSeparator,
		MaxDepth:  DefaultMaxDepth,
	}
}

// Flattener flattens values with fixed options. It holds no mutable state and
// is safe for concurrent use.
type Flattener struct {
	opts Options
}

// New creates a Flattener, filling zero options with defaults.
func New(opts Options) *Flattener {
	if opts.Separator == "" {
		opts.Separator = DefaultSeparator
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	return &Flattener{opts: opts}
}

// Flatten flattens v with default options.
func Flatten(v any) (Record, error) {
	return New(DefaultOptions()).Flatten(v)
}

// Flatten walks v and returns every scalar leaf keyed by its path.
//
// Object members extend the path with their key, array elements with their
// index. Object keys are visited in sorted order. Nulls and empty containers
// produce no entries. A scalar at the root is stored under the empty key.
func (f *Flattener) Flatten(v any) (Record, error) {
	out := make(Record)
	if err := f.walk("", v, 0, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (f *Flattener) walk(path string, v any, depth int, out Record) error {
	switch t := v.(type) {
	case nil:
		return nil
	case map[string]any:
		if depth >= f.opts.MaxDepth {
			return f.tooDeep(path)
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := f.walk(f.join(path, k), t[k], depth+1, out); err != nil {
				return err
			}
		}
	case Record:
		return f.walk(path, map[string]any(t), depth, out)
	case []any:
		if depth >= f.opts.MaxDepth {
			return f.tooDeep(path)
		}
		for i, child := range t {
			if err := f.walk(f.join(path, strconv.Itoa(i)), child, depth+1, out); err != nil {
				return err
			}
		}
	case []map[string]any:
		if depth >= f.opts.MaxDepth {
			return f.tooDeep(path)
		}
		for i, child := range t {
			if err := f.walk(f.join(path, strconv.Itoa(i)), child, depth+1, out); err != nil {
				return err
			}
		}
	default:
		if _, exists := out[path]; exists {
			return fmt.Errorf("%w: %q is built by more than one leaf", ErrPathCollision, path)
		}
		out[path] = v
	}
	return nil
}

func (f *Flattener) join(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + f.opts.Separator + key
}

func (f *Flattener) tooDeep(path string) error {
	return fmt.Errorf("%w: exceeded %d levels at %q", ErrStructureTooDeep, f.opts.MaxDepth, path)
}
