package tool

import (
	"context"
	"encoding/json"
	"fmt"
)

// Func is a tool backed by a Go function taking a typed argument struct. The
// model sees the struct's JSON schema; Call decodes the JSON arguments into it.
type Func[T any] struct {
	name        string
	description string
	params      map[string]any
	fn          func(context.Context, T) (string, error)
}

// NewFunc creates a typed function tool.
func NewFunc[T any](name, description string, fn func(context.Context, T) (string, error)) *Func[T] {
	return &Func[T]{
		name:        name,
		description: description,
		params:      Parameters[T](),
		fn:          fn,
	}
}

func (f *Func[T]) Name() string               { return f.name }
func (f *Func[T]) Description() string        { return f.description }
func (f *Func[T]) Parameters() map[string]any { return f.params }

func (f *Func[T]) Call(ctx context.Context, input string) (string, error) {
	var args T
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("invalid arguments for %s: %w", f.name, err)
	}
	return f.fn(ctx, args)
}
