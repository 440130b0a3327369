package conversations

import (
	"github.com/cloudwego/eino/schema"

	"github.com/basedosdados/chatbot-sub000/internal/agent/model"
)

// PruneMessages returns removals that keep only the messages belonging to
// the last questionLimit-1 human questions, so that the next question makes
// questionLimit. A non-positive limit keeps everything; a limit of 1 removes
// everything. When fewer questions are present nothing is removed.
func PruneMessages(messages []model.Message, questionLimit int) []model.MessageUpdate {
	if questionLimit <= 0 {
		return nil
	}

	if questionLimit == 1 {
		return removals(messages)
	}

	questions := 0
	for i := len(messages) - 1; i >= 0; i-- {
		if isHuman(messages[i]) {
			questions++
		}
		if questions == questionLimit-1 {
			// a trailing human message, or two human messages in a row, go too
			if i == len(messages)-1 || isHuman(messages[i+1]) {
				i++
			}
			return removals(messages[:i])
		}
	}

	return nil
}

// PruneHistory evicts the oldest turn once the history holds exactly
// questionLimit turns. A non-positive limit keeps everything.
func PruneHistory(history []model.ChatTurn, questionLimit int) []model.ChatTurnUpdate {
	if questionLimit <= 0 || len(history) != questionLimit {
		return nil
	}

	oldest := history[0].ID
	for _, t := range history[1:] {
		if t.ID < oldest {
			oldest = t.ID
		}
	}
	return []model.ChatTurnUpdate{model.ChatTurnRemove{ID: oldest}}
}

func removals(messages []model.Message) []model.MessageUpdate {
	out := make([]model.MessageUpdate, 0, len(messages))
	for _, m := range messages {
		out = append(out, model.MessageRemove{ID: m.ID})
	}
	return out
}

func isHuman(m model.Message) bool {
	return m.Message != nil && m.Role == schema.User
}
