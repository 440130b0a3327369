package sqlagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/basedosdados/chatbot-sub000/internal/agent/graph/checkpoints"
	"github.com/basedosdados/chatbot-sub000/internal/agent/graph/conversations"
	"github.com/basedosdados/chatbot-sub000/internal/agent/graph/nodes"
	"github.com/basedosdados/chatbot-sub000/internal/agent/graph/parsers"
	"github.com/basedosdados/chatbot-sub000/internal/agent/graph/prompts"
	"github.com/basedosdados/chatbot-sub000/internal/agent/graph/tools"
	"github.com/basedosdados/chatbot-sub000/internal/agent/model"
	logx "github.com/basedosdados/chatbot-sub000/pkg/logger"
)

const (
	// queryReserve leaves room for one more tool round plus the answer
	// and prune steps after a query_agent step.
	queryReserve = 3
	// selectReserve covers tables_info, get_sql_examples, query_agent,
	// get_answer and prune_messages after a select_datasets step.
	selectReserve = 4
)

var (
	queryNamespace  = uuid.NewSHA1(uuid.NameSpaceURL, []byte("sql_agent/sql_queries"))
	resultNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("sql_agent/sql_queries_results"))
)

// Config wires the SQL agent to its collaborators.
type Config struct {
	Model     einomodel.ToolCallingChatModel
	ModelName string
	Provider  model.ContextProvider
	// Examples is optional; without it no few-shot examples are used.
	Examples model.ExampleProvider
	// Saver is optional; without it the message log is not persisted.
	Saver *checkpoints.Saver

	QuestionLimit  int
	FewShotK       int
	ApologyMessage string
	CallTimeout    time.Duration
}

// Agent answers a question by selecting datasets, then writing, checking
// and running queries in a tool-calling loop.
type Agent struct {
	cfg Config

	selectModel einomodel.ToolCallingChatModel
	queryModel  einomodel.ToolCallingChatModel

	listNode   *compose.ToolsNode
	tablesNode *compose.ToolsNode
	queryNode  *compose.ToolsNode
}

func New(ctx context.Context, cfg Config) (*Agent, error) {
	if cfg.Model == nil {
		return nil, errors.New("sql agent: model is required")
	}
	if cfg.Provider == nil {
		return nil, errors.New("sql agent: context provider is required")
	}
	if cfg.ApologyMessage == "" {
		cfg.ApologyMessage = model.DefaultApologyMessage
	}

	listTool := tools.NewListDatasetsTool(cfg.Provider)
	tablesTool := tools.NewTablesInfoTool(cfg.Provider)
	checkTool := tools.NewQueryCheckTool(cfg.Model, cfg.Provider.Dialect(), cfg.CallTimeout)
	execTool := tools.NewQueryExecTool(cfg.Provider)

	a := &Agent{cfg: cfg}
	var err error

	if a.selectModel, err = bind(ctx, cfg.Model, tablesTool); err != nil {
		return nil, err
	}
	if a.queryModel, err = bind(ctx, cfg.Model, checkTool, execTool); err != nil {
		return nil, err
	}
	if a.listNode, err = tools.NewToolsNode(ctx, listTool); err != nil {
		return nil, err
	}
	if a.tablesNode, err = tools.NewToolsNode(ctx, tablesTool); err != nil {
		return nil, err
	}
	if a.queryNode, err = tools.NewToolsNode(ctx, checkTool, execTool); err != nil {
		return nil, err
	}
	return a, nil
}

func bind(ctx context.Context, cm einomodel.ToolCallingChatModel, ts ...tool.BaseTool) (einomodel.ToolCallingChatModel, error) {
	infos := make([]*schema.ToolInfo, 0, len(ts))
	for _, t := range ts {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("tool info: %w", err)
		}
		infos = append(infos, info)
	}
	bound, err := cm.WithTools(infos)
	if err != nil {
		return nil, fmt.Errorf("bind tools: %w", err)
	}
	return bound, nil
}

// Invoke runs one question through the agent. The message log of the
// thread is loaded from and saved to the checkpoint store when one is set.
func (a *Agent) Invoke(ctx context.Context, in Input, rc nodes.RunConfig) (*State, error) {
	question := strings.TrimSpace(in.Question)

	var st State
	parent, err := a.cfg.Saver.Load(ctx, rc.ThreadID, &st)
	if err != nil {
		return nil, err
	}

	st.Question = question
	if st.Messages, err = conversations.AddMessages(st.Messages, conversations.Wrap(schema.UserMessage(question))...); err != nil {
		return nil, err
	}

	r := &run{Agent: a, in: in}
	m := &nodes.Machine[Node, Event, State]{
		Name:       Namespace,
		Start:      NodeClearSQL,
		End:        NodeEnd,
		Reserve:    queryReserve,
		Transition: Transition,
		Run:        r.step,
	}
	writes, err := m.Execute(ctx, &st, rc)
	if err != nil {
		return nil, err
	}

	if _, err := a.cfg.Saver.Save(ctx, rc.ThreadID, parent, st, writes, map[string]any{
		"source":   "loop",
		"question": question,
	}); err != nil {
		return nil, err
	}
	return &st, nil
}

// run holds what a single invocation needs besides the state.
type run struct {
	*Agent
	in Input
}

func (r *run) step(ctx context.Context, node Node, st *State, step *nodes.Step) (Event, error) {
	switch node {
	case NodeClearSQL:
		return r.clearSQL(st)
	case NodeRewriteQuery:
		return r.rewriteQuery(ctx, st, step)
	case NodeCallListDatasets:
		return r.callListDatasets(st, step)
	case NodeListDatasets:
		return r.listDatasets(ctx, st, step)
	case NodeSelectDatasets:
		return r.selectDatasets(ctx, st, step)
	case NodeTablesInfo:
		return r.tablesInfo(ctx, st, step)
	case NodeGetSQLExamples:
		return r.getSQLExamples(ctx, st, step)
	case NodeQueryAgent:
		return r.queryAgent(ctx, st, step)
	case NodeTools:
		return r.runTools(ctx, st, step)
	case NodeGetAnswer:
		return r.getAnswer(st)
	case NodePruneMessages:
		return r.pruneMessages(st)
	}
	return "", fmt.Errorf("unknown node %q", node)
}

func (r *run) opts(step *nodes.Step) nodes.CallOptions {
	return nodes.CallOptions{
		ThreadID: step.ThreadID(),
		Agent:    Namespace,
		Node:     step.Node,
		Model:    r.cfg.ModelName,
		Timeout:  r.cfg.CallTimeout,
	}
}

func (r *run) clearSQL(st *State) (Event, error) {
	var err error
	if st.SQLQueries, err = conversations.AddItems(st.SQLQueries, removeAll(st.SQLQueries)...); err != nil {
		return "", err
	}
	if st.SQLQueriesResults, err = conversations.AddItems(st.SQLQueriesResults, removeAll(st.SQLQueriesResults)...); err != nil {
		return "", err
	}
	st.FinalAnswer = ""
	st.Datasets = nil
	st.Examples = nil
	return EventDone, nil
}

func removeAll(items []model.Item) []model.ItemUpdate {
	out := make([]model.ItemUpdate, 0, len(items))
	for _, it := range items {
		out = append(out, model.ItemRemove{ID: it.ID})
	}
	return out
}

func (r *run) rewriteQuery(ctx context.Context, st *State, step *nodes.Step) (Event, error) {
	st.RewrittenQuestion = st.Question
	if !r.in.RewriteQuery {
		return EventDone, nil
	}

	qs := conversations.Questions(conversations.Schema(st.Messages))
	if len(qs) > 0 {
		qs = qs[:len(qs)-1]
	}
	system, err := prompts.RewriteQuery(ctx)
	if err != nil {
		return "", err
	}
	out, err := nodes.Generate(ctx, r.cfg.Model, []*schema.Message{
		schema.SystemMessage(system),
		schema.UserMessage(prompts.RewriteQueryInput(qs, st.Question)),
	}, r.opts(step))
	if err != nil {
		return "", err
	}
	if q := strings.TrimSpace(out.Content); q != "" {
		st.RewrittenQuestion = q
	}
	logx.Debug().
		Str("thread_id", step.ThreadID()).
		Str("question", st.Question).
		Str("rewritten", st.RewrittenQuestion).
		Msg("Question rewritten")
	return EventDone, nil
}

func (r *run) callListDatasets(st *State, step *nodes.Step) (Event, error) {
	call := schema.ToolCall{
		ID:       "call_" + uuid.NewString(),
		Type:     "function",
		Function: schema.FunctionCall{Name: tools.ToolListDatasets, Arguments: "{}"},
	}
	msg := schema.AssistantMessage("", []schema.ToolCall{call})
	if err := st.appendMessages(msg); err != nil {
		return "", err
	}
	step.Emit(model.StreamEvent{Kind: model.EventToolCall, ToolCalls: msg.ToolCalls})
	return EventDone, nil
}

func (r *run) listDatasets(ctx context.Context, st *State, step *nodes.Step) (Event, error) {
	if _, err := r.invoke(tools.WithQuestion(ctx, st.RewrittenQuestion), r.listNode, st, step); err != nil {
		return "", err
	}
	return EventDone, nil
}

func (r *run) selectDatasets(ctx context.Context, st *State, step *nodes.Step) (Event, error) {
	if step.Remaining() <= selectReserve {
		logx.Warn().
			Str("thread_id", step.ThreadID()).
			Int("remaining", step.Remaining()).
			Msg("Step budget exhausted while selecting datasets")
		return EventApology, st.appendMessages(schema.AssistantMessage(r.cfg.ApologyMessage, nil))
	}

	system, err := prompts.SelectDatasets(ctx)
	if err != nil {
		return "", err
	}
	input := append([]*schema.Message{schema.SystemMessage(system)}, conversations.SinceLastHuman(conversations.Schema(st.Messages))...)
	out, err := nodes.Generate(ctx, r.selectModel, input, r.opts(step))
	if err != nil {
		return "", err
	}

	if len(out.ToolCalls) == 0 {
		// treat a plain-text reply as the dataset list the prompt asks for
		args, err := json.Marshal(map[string]string{"dataset_names": strings.TrimSpace(out.Content)})
		if err != nil {
			return "", err
		}
		out = schema.AssistantMessage("", []schema.ToolCall{{
			ID:       "call_" + uuid.NewString(),
			Type:     "function",
			Function: schema.FunctionCall{Name: tools.ToolTablesInfo, Arguments: string(args)},
		}})
	}

	if err := st.appendMessages(out); err != nil {
		return "", err
	}
	step.Emit(model.StreamEvent{Kind: model.EventToolCall, ToolCalls: out.ToolCalls})
	return EventToolCalls, nil
}

func (r *run) tablesInfo(ctx context.Context, st *State, step *nodes.Step) (Event, error) {
	call := lastMessage(st)
	outs, err := r.invoke(ctx, r.tablesNode, st, step)
	if err != nil {
		return "", err
	}
	for _, o := range outs {
		if tools.IsError(o.Content) {
			return EventToolError, nil
		}
	}

	st.Datasets = nil
	if call != nil {
		for _, tc := range call.ToolCalls {
			if tc.Function.Name == tools.ToolTablesInfo {
				st.Datasets = append(st.Datasets, tools.DatasetNamesFromArgs(tc.Function.Arguments)...)
			}
		}
	}
	return EventDone, nil
}

func (r *run) getSQLExamples(ctx context.Context, st *State, step *nodes.Step) (Event, error) {
	st.Examples = nil
	if r.cfg.Examples == nil || r.cfg.FewShotK <= 0 {
		return EventDone, nil
	}
	examples, err := r.cfg.Examples.SQLExamples(ctx, st.RewrittenQuestion, st.Datasets, r.cfg.FewShotK)
	if err != nil {
		logx.Warn().Err(err).
			Str("thread_id", step.ThreadID()).
			Strs("datasets", st.Datasets).
			Msg("Few-shot example lookup failed; continuing without examples")
		return EventDone, nil
	}
	st.Examples = examples
	return EventDone, nil
}

func (r *run) queryAgent(ctx context.Context, st *State, step *nodes.Step) (Event, error) {
	system, err := prompts.SQLAgent(ctx, r.cfg.Provider.Dialect(), st.Examples)
	if err != nil {
		return "", err
	}
	input := append([]*schema.Message{schema.SystemMessage(system)}, conversations.Schema(st.Messages)...)
	out, err := nodes.Generate(ctx, r.queryModel, input, r.opts(step))
	if err != nil {
		return "", err
	}

	if len(out.ToolCalls) > 0 && step.IsLastStep() {
		logx.Warn().
			Str("thread_id", step.ThreadID()).
			Int("pending_tool_calls", len(out.ToolCalls)).
			Msg("Step budget exhausted with pending tool calls")
		return EventApology, st.appendMessages(schema.AssistantMessage(r.cfg.ApologyMessage, nil))
	}

	if err := st.appendMessages(out); err != nil {
		return "", err
	}
	if len(out.ToolCalls) > 0 {
		step.Emit(model.StreamEvent{Kind: model.EventToolCall, ToolCalls: out.ToolCalls})
		return EventToolCalls, nil
	}
	return EventAnswer, nil
}

func (r *run) runTools(ctx context.Context, st *State, step *nodes.Step) (Event, error) {
	call := lastMessage(st)
	outs, err := r.invoke(ctx, r.queryNode, st, step)
	if err != nil {
		return "", err
	}
	if call == nil {
		return EventDone, nil
	}

	byID := make(map[string]schema.ToolCall, len(call.ToolCalls))
	for _, tc := range call.ToolCalls {
		byID[tc.ID] = tc
	}

	var queries, results []model.ItemUpdate
	for _, o := range outs {
		tc, ok := byID[o.ToolCallID]
		if !ok || tc.Function.Name != tools.ToolQueryExec {
			continue
		}
		if tools.IsError(o.Content) || o.Content == tools.NoRowsMessage {
			continue
		}
		q := tools.QueryFromArgs(tc.Function.Arguments)
		queries = append(queries, model.Item{ID: uuid.NewSHA1(queryNamespace, []byte(q)), Content: q})
		results = append(results, model.Item{ID: uuid.NewSHA1(resultNamespace, []byte(q)), Content: o.Content})
	}

	if st.SQLQueries, err = conversations.AddItems(st.SQLQueries, queries...); err != nil {
		return "", err
	}
	if st.SQLQueriesResults, err = conversations.AddItems(st.SQLQueriesResults, results...); err != nil {
		return "", err
	}
	return EventDone, nil
}

func (r *run) getAnswer(st *State) (Event, error) {
	if last := lastMessage(st); last != nil {
		st.FinalAnswer = last.Content
	}
	return EventDone, nil
}

func (r *run) pruneMessages(st *State) (Event, error) {
	var err error
	st.Messages, err = conversations.AddMessages(st.Messages, conversations.PruneMessages(st.Messages, r.cfg.QuestionLimit)...)
	return EventDone, err
}

// invoke runs the tool calls of the last message through tn and appends
// the tool messages to the log.
func (r *run) invoke(ctx context.Context, tn *compose.ToolsNode, st *State, step *nodes.Step) ([]*schema.Message, error) {
	call := lastMessage(st)
	if call == nil || len(call.ToolCalls) == 0 {
		return nil, fmt.Errorf("%s: last message has no tool calls", step.Node)
	}
	outs, err := nodes.InvokeTools(ctx, tn, call, r.opts(step))
	if err != nil {
		return nil, err
	}
	if err := st.appendMessages(outs...); err != nil {
		return nil, err
	}

	names := make(map[string]string, len(call.ToolCalls))
	for _, tc := range call.ToolCalls {
		names[tc.ID] = tc.Function.Name
	}
	ev := model.StreamEvent{Kind: model.EventToolOutput}
	for _, o := range outs {
		ev.ToolOutputs = append(ev.ToolOutputs, model.ToolOutput{
			ToolCallID: o.ToolCallID,
			ToolName:   names[o.ToolCallID],
			Output:     parsers.TruncateJSON(o.Content),
		})
	}
	step.Emit(ev)
	return outs, nil
}

func (st *State) appendMessages(msgs ...*schema.Message) error {
	var err error
	st.Messages, err = conversations.AddMessages(st.Messages, conversations.Wrap(msgs...)...)
	return err
}

func lastMessage(st *State) *schema.Message {
	for i := len(st.Messages) - 1; i >= 0; i-- {
		if st.Messages[i].Message != nil {
			return st.Messages[i].Message
		}
	}
	return nil
}
