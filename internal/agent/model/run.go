package model

import (
	"github.com/cloudwego/eino/schema"
)

// QueryInput is one user turn submitted to the assistant.
type QueryInput struct {
	ThreadID       string `json:"thread_id"`
	Question       string `json:"question"`
	RewriteQuery   bool   `json:"rewrite_query,omitempty"`
	RecursionLimit int    `json:"recursion_limit,omitempty"`
}

// RunState is the router's persisted state after a turn.
type RunState struct {
	Question          string         `json:"question"`
	SQLAnswer         string         `json:"sql_answer"`
	FinalAnswer       string         `json:"final_answer"`
	SQLQueries        []Item         `json:"sql_queries"`
	SQLQueriesResults []Item         `json:"sql_queries_results"`
	Visualization     *Visualization `json:"visualization"`
	History           []ChatTurn     `json:"history"`
	Previous          Route          `json:"previous"`
	Next              Route          `json:"next"`
	DataTurnIDs       []int          `json:"data_turn_ids,omitempty"`
	VizQuestion       string         `json:"question_for_viz_agent,omitempty"`
}

// EventKind classifies stream events.
type EventKind string

const (
	EventStep       EventKind = "step"
	EventToolCall   EventKind = "tool_call"
	EventToolOutput EventKind = "tool_output"
	EventAnswer     EventKind = "final_answer"
	EventError      EventKind = "error"
	EventComplete   EventKind = "complete"
)

// ToolOutput is a tool result as shown to stream consumers.
type ToolOutput struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
	Output     string `json:"output"`
}

// StreamEvent is emitted after every state-machine step and at the end of a turn.
type StreamEvent struct {
	Kind        EventKind         `json:"kind"`
	Agent       string            `json:"agent,omitempty"`
	Node        string            `json:"node,omitempty"`
	Step        int               `json:"step,omitempty"`
	Content     string            `json:"content,omitempty"`
	ToolCalls   []schema.ToolCall `json:"tool_calls,omitempty"`
	ToolOutputs []ToolOutput      `json:"tool_outputs,omitempty"`
	// State is a deep copy of the emitting agent's state after the step.
	State any `json:"-"`
	// Final is set on the complete event.
	Final *RunState `json:"final,omitempty"`
	Err   error     `json:"-"`
}
