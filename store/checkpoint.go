package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrCheckpointNotFound is returned, possibly wrapped, when a checkpoint id or a
// thread has no stored checkpoint.
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// Checkpoint represents a saved state of one agent thread after a step.
type Checkpoint struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
	// NodeName is the node that runs next when the thread continues.
	NodeName  string          `json:"node_name"`
	State     json.RawMessage `json:"state"`
	Metadata  map[string]any  `json:"metadata"`
	Timestamp time.Time       `json:"timestamp"`
	Version   int             `json:"version"`
}

// CheckpointStore defines the interface for checkpoint persistence
type CheckpointStore interface {
	// Save stores a checkpoint, replacing one with the same ID.
	Save(ctx context.Context, checkpoint *Checkpoint) error

	// Load retrieves a checkpoint by ID
	Load(ctx context.Context, checkpointID string) (*Checkpoint, error)

	// Latest returns the checkpoint with the highest version for a thread.
	Latest(ctx context.Context, threadID string) (*Checkpoint, error)

	// List returns all checkpoints of a thread ordered by version.
	List(ctx context.Context, threadID string) ([]*Checkpoint, error)

	// Delete removes a checkpoint
	Delete(ctx context.Context, checkpointID string) error

	// Clear removes all checkpoints of a thread
	Clear(ctx context.Context, threadID string) error
}
