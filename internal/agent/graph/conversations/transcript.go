package conversations

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/basedosdados/chatbot-sub000/internal/agent/model"
)

type transcriptTurn struct {
	TurnID       int    `json:"turn_id"`
	UserQuestion string `json:"user_question"`
	AIResponse   string `json:"ai_response"`
}

type transcript struct {
	ConversationHistory []transcriptTurn `json:"conversation_history"`
	CurrentQuestion     string           `json:"current_question"`
}

// FormatRouterInput renders the turn history and the new question as the
// indented JSON document the router model reads.
func FormatRouterInput(question string, history []model.ChatTurn) (string, error) {
	t := transcript{
		ConversationHistory: make([]transcriptTurn, 0, len(history)),
		CurrentQuestion:     question,
	}
	for _, turn := range history {
		t.ConversationHistory = append(t.ConversationHistory, transcriptTurn{
			TurnID:       turn.ID,
			UserQuestion: turn.UserQuestion,
			AIResponse:   turn.AIResponse,
		})
	}
	return MarshalIndent(t)
}

// MarshalIndent encodes v with two-space indentation and without HTML escaping.
func MarshalIndent(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("encode json: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// DataFromTurns concatenates the data of the turns with the given ids, in
// the order of ids. Unknown ids are skipped.
func DataFromTurns(ids []int, history []model.ChatTurn) []model.Item {
	byID := make(map[int]model.ChatTurn, len(history))
	for _, t := range history {
		byID[t.ID] = t
	}

	var data []model.Item
	for _, id := range ids {
		if t, ok := byID[id]; ok {
			data = append(data, t.Data...)
		}
	}
	return data
}

// NormalizeData decodes each item's JSON content and flattens arrays into a
// single row list. Items that are not valid JSON are skipped.
func NormalizeData(items []model.Item) []any {
	rows := make([]any, 0, len(items))
	for _, it := range items {
		var v any
		if err := json.Unmarshal([]byte(it.Content), &v); err != nil {
			continue
		}
		if list, ok := v.([]any); ok {
			rows = append(rows, list...)
			continue
		}
		rows = append(rows, v)
	}
	return rows
}

// NextTurnID returns the id for a turn appended to history.
func NextTurnID(history []model.ChatTurn) int {
	if len(history) == 0 {
		return 1
	}
	return history[len(history)-1].ID + 1
}

// LastHumanIndex returns the index of the last user message, or -1.
func LastHumanIndex(msgs []*schema.Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i] != nil && msgs[i].Role == schema.User {
			return i
		}
	}
	return -1
}

// SinceLastHuman returns msgs from the last user message onward.
func SinceLastHuman(msgs []*schema.Message) []*schema.Message {
	if i := LastHumanIndex(msgs); i >= 0 {
		return msgs[i:]
	}
	return msgs
}

// Questions returns the content of every user message in order.
func Questions(msgs []*schema.Message) []string {
	var qs []string
	for _, m := range msgs {
		if m != nil && m.Role == schema.User {
			qs = append(qs, m.Content)
		}
	}
	return qs
}
