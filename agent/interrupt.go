package agent

import (
	"context"
	"fmt"
	"sync"
)

// NodeInterrupt is returned when a node requests an interrupt (e.g. waiting for human input).
type NodeInterrupt struct {
	// Node is the name of the node that triggered the interrupt
	Node string
	// Value is the data/query provided by the interrupt
	Value any
}

func (e *NodeInterrupt) Error() string {
	return fmt.Sprintf("interrupt at node %s: %v", e.Node, e.Value)
}

type resumeValueKey struct{}

type resumeSlot struct {
	mu    sync.Mutex
	value any
	used  bool
}

// WithResumeValue adds a resume value to the context. The first Interrupt
// call under the returned context receives it; later calls interrupt again.
func WithResumeValue(ctx context.Context, value any) context.Context {
	return context.WithValue(ctx, resumeValueKey{}, &resumeSlot{value: value})
}

// Interrupt returns the pending resume value, or a *NodeInterrupt carrying
// value when there is none.
func Interrupt(ctx context.Context, value any) (any, error) {
	if slot, ok := ctx.Value(resumeValueKey{}).(*resumeSlot); ok {
		slot.mu.Lock()
		defer slot.mu.Unlock()
		if !slot.used {
			slot.used = true
			return slot.value, nil
		}
	}
	return nil, &NodeInterrupt{Node: nodeTools, Value: value}
}
