package model

import (
	"context"
	"time"
)

// Checkpoint is a snapshot of one agent namespace within a thread.
// Channels are the top-level fields of the agent's state; each changed
// channel is stored once as a versioned blob.
type Checkpoint struct {
	ThreadID        string            `json:"thread_id"`
	Namespace       string            `json:"checkpoint_ns"`
	ID              string            `json:"id"`
	ParentID        string            `json:"parent_id,omitempty"`
	Step            int               `json:"step"`
	CreatedAt       time.Time         `json:"ts"`
	ChannelVersions map[string]string `json:"channel_versions"`
	Metadata        map[string]any    `json:"metadata,omitempty"`
	// Blobs holds new channel values on Save and all current values on Load.
	Blobs []CheckpointBlob `json:"-"`
	// Writes records the node trail that produced this checkpoint.
	Writes []CheckpointWrite `json:"-"`
}

type CheckpointBlob struct {
	Channel string
	Version string
	Type    string
	Data    []byte
}

type CheckpointWrite struct {
	TaskID  string
	Idx     int
	Channel string
	Type    string
	Data    []byte
}

// CheckpointRepository persists checkpoints across the checkpoints,
// checkpoint_blobs and checkpoint_writes stores.
type CheckpointRepository interface {
	// Setup creates the backing tables; safe to call repeatedly.
	Setup(ctx context.Context) error

	// Save stores cp, its new blobs and its writes.
	Save(ctx context.Context, cp *Checkpoint) error

	// Load returns the latest checkpoint of a namespace with all channel
	// blobs, or nil when the thread has none.
	Load(ctx context.Context, threadID, namespace string) (*Checkpoint, error)

	// Delete removes every record of the thread from all three stores.
	Delete(ctx context.Context, threadID string) error
}

// ThreadLocker serializes turns on the same thread.
type ThreadLocker interface {
	Lock(ctx context.Context, threadID string) (unlock func(context.Context) error, err error)
}
