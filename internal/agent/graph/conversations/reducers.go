package conversations

import (
	"errors"
	"fmt"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/basedosdados/chatbot-sub000/internal/agent/model"
)

// ErrUnknownID is returned when a removal targets an id that is not present.
var ErrUnknownID = errors.New("attempting to delete an entry with an id that doesn't exist")

// merge applies updates to existing by id. Only ids already in existing
// can be replaced in place or removed; any other value is appended, and a
// removal of an unknown id fails without touching existing. Removals are
// filtered out last.
func merge[K comparable, V any, U any](
	existing []V,
	updates []U,
	keyOf func(V) K,
	decode func(U) (K, *V),
) ([]V, error) {
	merged := make([]V, len(existing), len(existing)+len(updates))
	copy(merged, existing)

	index := make(map[K]int, len(merged))
	for i, v := range merged {
		index[keyOf(v)] = i
	}

	removed := make(map[K]struct{})
	for _, u := range updates {
		key, value := decode(u)
		if value == nil {
			if _, ok := index[key]; !ok {
				return nil, fmt.Errorf("%w: %v", ErrUnknownID, key)
			}
			removed[key] = struct{}{}
			continue
		}
		if i, ok := index[key]; ok {
			merged[i] = *value
			continue
		}
		merged = append(merged, *value)
	}

	if len(removed) == 0 {
		return merged, nil
	}
	out := merged[:0:0]
	for _, v := range merged {
		if _, gone := removed[keyOf(v)]; !gone {
			out = append(out, v)
		}
	}
	return out, nil
}

// AddItems merges item updates into existing.
func AddItems(existing []model.Item, updates ...model.ItemUpdate) ([]model.Item, error) {
	return merge(existing, updates,
		func(it model.Item) uuid.UUID { return it.ID },
		func(u model.ItemUpdate) (uuid.UUID, *model.Item) {
			switch v := u.(type) {
			case model.Item:
				return v.ID, &v
			case model.ItemRemove:
				return v.ID, nil
			}
			panic(fmt.Sprintf("unexpected item update %T", u))
		},
	)
}

// AddChatTurns merges chat-turn updates into existing.
func AddChatTurns(existing []model.ChatTurn, updates ...model.ChatTurnUpdate) ([]model.ChatTurn, error) {
	return merge(existing, updates,
		func(t model.ChatTurn) int { return t.ID },
		func(u model.ChatTurnUpdate) (int, *model.ChatTurn) {
			switch v := u.(type) {
			case model.ChatTurn:
				return v.ID, &v
			case model.ChatTurnRemove:
				return v.ID, nil
			}
			panic(fmt.Sprintf("unexpected chat turn update %T", u))
		},
	)
}

// AddMessages merges message updates into existing. Messages without an id
// get a fresh one and are appended.
func AddMessages(existing []model.Message, updates ...model.MessageUpdate) ([]model.Message, error) {
	return merge(existing, updates,
		func(m model.Message) string { return m.ID },
		func(u model.MessageUpdate) (string, *model.Message) {
			switch v := u.(type) {
			case model.Message:
				if v.ID == "" {
					v.ID = uuid.NewString()
				}
				return v.ID, &v
			case model.MessageRemove:
				return v.ID, nil
			}
			panic(fmt.Sprintf("unexpected message update %T", u))
		},
	)
}

// Schema returns the underlying eino messages in order.
func Schema(msgs []model.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Message != nil {
			out = append(out, m.Message)
		}
	}
	return out
}

// Wrap gives each eino message a fresh id.
func Wrap(msgs ...*schema.Message) []model.MessageUpdate {
	out := make([]model.MessageUpdate, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, model.NewMessage(m))
	}
	return out
}
