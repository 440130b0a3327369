package checkpoints

import (
	"context"
	"sync"

	"github.com/huandu/go-clone"

	"github.com/basedosdados/chatbot-sub000/internal/agent/model"
)

type nsKey struct {
	thread    string
	namespace string
}

type blobKey struct {
	nsKey
	channel string
	version string
}

// MemoryRepository keeps checkpoints in process memory. It is used when no
// backend is configured and in tests.
type MemoryRepository struct {
	mu          sync.Mutex
	checkpoints map[nsKey][]*model.Checkpoint
	blobs       map[blobKey]model.CheckpointBlob
	writes      map[string][]model.CheckpointWrite
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		checkpoints: map[nsKey][]*model.Checkpoint{},
		blobs:       map[blobKey]model.CheckpointBlob{},
		writes:      map[string][]model.CheckpointWrite{},
	}
}

func (r *MemoryRepository) Setup(context.Context) error { return nil }

func (r *MemoryRepository) Save(_ context.Context, cp *model.Checkpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := nsKey{cp.ThreadID, cp.Namespace}
	stored := clone.Clone(cp).(*model.Checkpoint)
	stored.Blobs = nil
	stored.Writes = nil
	r.checkpoints[k] = append(r.checkpoints[k], stored)

	for _, b := range cp.Blobs {
		r.blobs[blobKey{k, b.Channel, b.Version}] = clone.Clone(b).(model.CheckpointBlob)
	}
	r.writes[cp.ID] = clone.Clone(cp.Writes).([]model.CheckpointWrite)
	return nil
}

func (r *MemoryRepository) Load(_ context.Context, threadID, namespace string) (*model.Checkpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := nsKey{threadID, namespace}
	list := r.checkpoints[k]
	if len(list) == 0 {
		return nil, nil
	}
	cp := clone.Clone(list[len(list)-1]).(*model.Checkpoint)
	for ch, v := range cp.ChannelVersions {
		if b, ok := r.blobs[blobKey{k, ch, v}]; ok {
			cp.Blobs = append(cp.Blobs, clone.Clone(b).(model.CheckpointBlob))
		}
	}
	cp.Writes = clone.Clone(r.writes[cp.ID]).([]model.CheckpointWrite)
	return cp, nil
}

func (r *MemoryRepository) Delete(_ context.Context, threadID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for k, list := range r.checkpoints {
		if k.thread != threadID {
			continue
		}
		for _, cp := range list {
			delete(r.writes, cp.ID)
		}
		delete(r.checkpoints, k)
	}
	for k := range r.blobs {
		if k.thread == threadID {
			delete(r.blobs, k)
		}
	}
	return nil
}

// Count returns how many checkpoints, blobs and writes the thread has.
func (r *MemoryRepository) Count(threadID string) (checkpoints, blobs, writes int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for k, list := range r.checkpoints {
		if k.thread != threadID {
			continue
		}
		checkpoints += len(list)
		for _, cp := range list {
			writes += len(r.writes[cp.ID])
		}
	}
	for k := range r.blobs {
		if k.thread == threadID {
			blobs++
		}
	}
	return checkpoints, blobs, writes
}

var _ model.CheckpointRepository = (*MemoryRepository)(nil)
