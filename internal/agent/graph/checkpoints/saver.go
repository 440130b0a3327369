package checkpoints

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/basedosdados/chatbot-sub000/internal/agent/model"
	logx "github.com/basedosdados/chatbot-sub000/pkg/logger"
)

const blobType = "json"

// Saver persists one agent namespace of a thread. Each top-level JSON field
// of the state is a channel; a save writes a new blob only for channels
// whose value changed since the parent checkpoint.
type Saver struct {
	repo      model.CheckpointRepository
	namespace string
	now       func() time.Time
}

// NewSaver returns a saver for namespace. A nil repo disables persistence.
func NewSaver(repo model.CheckpointRepository, namespace string) *Saver {
	return &Saver{repo: repo, namespace: namespace, now: time.Now}
}

func (s *Saver) Namespace() string { return s.namespace }

// Load decodes the latest checkpoint of the thread into state. It returns
// nil, leaving state untouched, when the thread has no checkpoint.
func (s *Saver) Load(ctx context.Context, threadID string, state any) (*model.Checkpoint, error) {
	if s == nil || s.repo == nil {
		return nil, nil
	}
	cp, err := s.repo.Load(ctx, threadID, s.namespace)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s/%s: %w", threadID, s.namespace, err)
	}
	if cp == nil {
		return nil, nil
	}

	channels := make(map[string]json.RawMessage, len(cp.Blobs))
	for _, b := range cp.Blobs {
		if cp.ChannelVersions[b.Channel] != b.Version {
			continue
		}
		channels[b.Channel] = json.RawMessage(b.Data)
	}
	doc, err := json.Marshal(channels)
	if err != nil {
		return nil, fmt.Errorf("assemble checkpoint: %w", err)
	}
	if err := json.Unmarshal(doc, state); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", cp.ID, err)
	}

	logx.Debug().
		Str("thread_id", threadID).
		Str("checkpoint_ns", s.namespace).
		Str("checkpoint_id", cp.ID).
		Int("channels", len(channels)).
		Msg("Checkpoint loaded")
	return cp, nil
}

// Save stores state as a child of parent, which may be nil for the first
// checkpoint of the thread. The returned checkpoint carries every current
// channel value so it can serve as the parent of the next save.
func (s *Saver) Save(ctx context.Context, threadID string, parent *model.Checkpoint, state any, writes []model.CheckpointWrite, metadata map[string]any) (*model.Checkpoint, error) {
	if s == nil || s.repo == nil {
		return nil, nil
	}

	doc, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	var channels map[string]json.RawMessage
	if err := json.Unmarshal(doc, &channels); err != nil {
		return nil, fmt.Errorf("state must encode as a JSON object: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("checkpoint id: %w", err)
	}

	cp := &model.Checkpoint{
		ThreadID:        threadID,
		Namespace:       s.namespace,
		ID:              id.String(),
		Step:            1,
		CreatedAt:       s.now().UTC(),
		ChannelVersions: make(map[string]string, len(channels)),
		Metadata:        metadata,
		Writes:          writes,
	}

	previous := map[string]model.CheckpointBlob{}
	if parent != nil {
		cp.ParentID = parent.ID
		cp.Step = parent.Step + 1
		for _, b := range parent.Blobs {
			if parent.ChannelVersions[b.Channel] == b.Version {
				previous[b.Channel] = b
			}
		}
	}

	names := make([]string, 0, len(channels))
	for name := range channels {
		names = append(names, name)
	}
	sort.Strings(names)

	var all []model.CheckpointBlob
	for _, name := range names {
		data := []byte(channels[name])
		if old, ok := previous[name]; ok && bytes.Equal(old.Data, data) {
			cp.ChannelVersions[name] = old.Version
			all = append(all, old)
			continue
		}
		b := model.CheckpointBlob{
			Channel: name,
			Version: nextVersion(previous[name].Version),
			Type:    blobType,
			Data:    data,
		}
		cp.ChannelVersions[name] = b.Version
		cp.Blobs = append(cp.Blobs, b)
		all = append(all, b)
	}

	if err := s.repo.Save(ctx, cp); err != nil {
		return nil, fmt.Errorf("save checkpoint %s/%s: %w", threadID, s.namespace, err)
	}

	logx.Debug().
		Str("thread_id", threadID).
		Str("checkpoint_ns", s.namespace).
		Str("checkpoint_id", cp.ID).
		Int("step", cp.Step).
		Int("new_blobs", len(cp.Blobs)).
		Int("writes", len(writes)).
		Msg("Checkpoint saved")

	cp.Blobs = all
	return cp, nil
}

// nextVersion increments a zero-padded channel version.
func nextVersion(v string) string {
	n, _ := strconv.Atoi(v)
	return fmt.Sprintf("%08d", n+1)
}
