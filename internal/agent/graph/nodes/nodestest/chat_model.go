// Package nodestest provides a scripted chat model for state machine tests.
package nodestest

import (
	"context"
	"errors"
	"sync"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ErrScriptExhausted is returned once every scripted reply has been used.
var ErrScriptExhausted = errors.New("scripted chat model: no replies left")

// Reply is one scripted response, or an error.
type Reply struct {
	Message *schema.Message
	Err     error
}

// Text returns a plain assistant reply.
func Text(content string) Reply {
	return Reply{Message: schema.AssistantMessage(content, nil)}
}

// ToolCall returns an assistant reply calling one tool.
func ToolCall(id, name, args string) Reply {
	return Reply{Message: schema.AssistantMessage("", []schema.ToolCall{{
		ID:       id,
		Type:     "function",
		Function: schema.FunctionCall{Name: name, Arguments: args},
	}})}
}

// Fail returns a reply that errors.
func Fail(err error) Reply {
	return Reply{Err: err}
}

// ChatModel replays Replies in order and records every call. Models bound
// with WithTools share the script and the call log.
type ChatModel struct {
	shared *script
	tools  []string
}

type script struct {
	mu      sync.Mutex
	replies []Reply
	calls   []Call
}

// Call is one recorded Generate call.
type Call struct {
	Messages []*schema.Message
	Tools    []string
}

func New(replies ...Reply) *ChatModel {
	return &ChatModel{shared: &script{replies: replies}}
}

func (m *ChatModel) Generate(_ context.Context, input []*schema.Message, _ ...einomodel.Option) (*schema.Message, error) {
	s := m.shared
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, Call{Messages: append([]*schema.Message(nil), input...), Tools: m.tools})
	if len(s.replies) == 0 {
		return nil, ErrScriptExhausted
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	if r.Err != nil {
		return nil, r.Err
	}
	msg := *r.Message
	return &msg, nil
}

func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (m *ChatModel) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	return &ChatModel{shared: m.shared, tools: names}, nil
}

// Calls returns the recorded calls.
func (m *ChatModel) Calls() []Call {
	m.shared.mu.Lock()
	defer m.shared.mu.Unlock()
	return append([]Call(nil), m.shared.calls...)
}

// Remaining returns how many replies are left.
func (m *ChatModel) Remaining() int {
	m.shared.mu.Lock()
	defer m.shared.mu.Unlock()
	return len(m.shared.replies)
}

var _ einomodel.ToolCallingChatModel = (*ChatModel)(nil)
