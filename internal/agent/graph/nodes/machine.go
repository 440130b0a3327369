package nodes

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/huandu/go-clone"

	"github.com/basedosdados/chatbot-sub000/internal/agent/model"
	logx "github.com/basedosdados/chatbot-sub000/pkg/logger"
)

// RunConfig carries per-run settings shared by every agent of a turn.
type RunConfig struct {
	ThreadID       string
	RecursionLimit int
	// Emit receives step events; nil discards them.
	Emit func(model.StreamEvent)
}

func (c RunConfig) emit(ev model.StreamEvent) {
	if c.Emit != nil {
		c.Emit(ev)
	}
}

// Step is handed to a node while it runs.
type Step struct {
	Agent  string
	Node   string
	Index  int
	budget *Budget
	cfg    RunConfig
}

// IsLastStep reports whether the node must wrap up instead of looping.
func (s *Step) IsLastStep() bool { return s.budget.IsLastStep() }

// Remaining returns how many steps the run may still take after this one.
func (s *Step) Remaining() int { return s.budget.Remaining() }

// ThreadID returns the thread of the run.
func (s *Step) ThreadID() string { return s.cfg.ThreadID }

// Config returns the run config, for nodes that start a nested machine.
func (s *Step) Config() RunConfig { return s.cfg }

// Emit publishes ev tagged with the current agent, node and step.
func (s *Step) Emit(ev model.StreamEvent) {
	if ev.Agent == "" {
		ev.Agent = s.Agent
	}
	if ev.Node == "" {
		ev.Node = s.Node
	}
	if ev.Step == 0 {
		ev.Step = s.Index
	}
	s.cfg.emit(ev)
}

// Machine is an explicit state machine: Run executes a node against the
// state and returns an event, Transition maps (node, event) to the next
// node. Transition must be pure.
type Machine[N ~string, E ~string, S any] struct {
	Name       string
	Start      N
	End        N
	Reserve    int
	Transition func(N, E) (N, bool)
	Run        func(ctx context.Context, node N, state *S, step *Step) (E, error)
}

// Execute drives the machine from Start to End and returns the node trail
// for checkpointing.
func (m *Machine[N, E, S]) Execute(ctx context.Context, state *S, cfg RunConfig) ([]model.CheckpointWrite, error) {
	budget := NewBudget(cfg.RecursionLimit, m.Reserve)
	var trail []model.CheckpointWrite

	for node := m.Start; node != m.End; {
		if err := ctx.Err(); err != nil {
			return trail, err
		}
		if err := budget.Step(); err != nil {
			logx.Warn().
				Str("thread_id", cfg.ThreadID).
				Str("agent", m.Name).
				Str("node", string(node)).
				Int("limit", budget.Limit()).
				Msg("Recursion limit reached")
			return trail, err
		}

		step := &Step{Agent: m.Name, Node: string(node), Index: budget.Used(), budget: budget, cfg: cfg}
		ev, err := m.Run(ctx, node, state, step)
		if err != nil {
			return trail, fmt.Errorf("%s/%s: %w", m.Name, node, err)
		}

		next, ok := m.Transition(node, ev)
		if !ok {
			return trail, fmt.Errorf("%w: %s/%s on %q", ErrInvalidTransition, m.Name, node, ev)
		}

		logx.Debug().
			Str("thread_id", cfg.ThreadID).
			Str("agent", m.Name).
			Str("node", string(node)).
			Str("event", string(ev)).
			Str("next", string(next)).
			Int("step", budget.Used()).
			Msg("Step finished")

		trail = append(trail, trailEntry(string(node), len(trail), string(ev), budget.Used()))
		cfg.emit(model.StreamEvent{
			Kind:  model.EventStep,
			Agent: m.Name,
			Node:  string(node),
			Step:  budget.Used(),
			State: clone.Clone(*state),
		})
		node = next
	}
	return trail, nil
}

func trailEntry(node string, idx int, event string, step int) model.CheckpointWrite {
	b, _ := json.Marshal(map[string]any{"event": event, "step": step})
	return model.CheckpointWrite{TaskID: node, Idx: idx, Channel: "__node__", Type: "json", Data: b}
}
