package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/basedosdados/chatbot-sub000/internal/agent/graph/checkpoints"
	"github.com/basedosdados/chatbot-sub000/internal/agent/graph/conversations"
	"github.com/basedosdados/chatbot-sub000/internal/agent/graph/nodes"
	"github.com/basedosdados/chatbot-sub000/internal/agent/graph/parsers"
	"github.com/basedosdados/chatbot-sub000/internal/agent/graph/prompts"
	"github.com/basedosdados/chatbot-sub000/internal/agent/graph/sqlagent"
	"github.com/basedosdados/chatbot-sub000/internal/agent/graph/vizagent"
	"github.com/basedosdados/chatbot-sub000/internal/agent/model"
	logx "github.com/basedosdados/chatbot-sub000/pkg/logger"
)

type SQLRunner interface {
	Invoke(ctx context.Context, in sqlagent.Input, rc nodes.RunConfig) (*sqlagent.State, error)
}

type VizRunner interface {
	Invoke(ctx context.Context, in vizagent.Input, rc nodes.RunConfig) (*vizagent.State, error)
}

type Config struct {
	Model     einomodel.BaseChatModel
	ModelName string
	SQL       SQLRunner
	Viz       VizRunner
	Saver     *checkpoints.Saver
	// Dialect is shown to the routing model, e.g. PostgreSQL.
	Dialect string

	QuestionLimit     int
	VizFailureMessage string
	CallTimeout       time.Duration
}

// Router is the supervisor: it decides which agents answer a question and
// assembles their outputs into a chat turn.
type Router struct {
	cfg Config
}

func New(cfg Config) (*Router, error) {
	switch {
	case cfg.Model == nil:
		return nil, errors.New("router: model is required")
	case cfg.SQL == nil:
		return nil, errors.New("router: sql agent is required")
	case cfg.Viz == nil:
		return nil, errors.New("router: viz agent is required")
	}
	if cfg.VizFailureMessage == "" {
		cfg.VizFailureMessage = model.DefaultVizFailureMessage
	}
	return &Router{cfg: cfg}, nil
}

// Invoke answers one question on the thread of rc.
func (r *Router) Invoke(ctx context.Context, in model.QueryInput, rc nodes.RunConfig) (*State, error) {
	var st State
	parent, err := r.cfg.Saver.Load(ctx, rc.ThreadID, &st)
	if err != nil {
		return nil, err
	}
	// only the history survives a turn
	st = State{History: st.History, Question: strings.TrimSpace(in.Question)}

	t := &turn{Router: r, rewrite: in.RewriteQuery}
	m := &nodes.Machine[Node, Event, State]{
		Name:       Namespace,
		Start:      NodeInitialRouter,
		End:        NodeEnd,
		Transition: Transition,
		Run:        t.step,
	}
	writes, err := m.Execute(ctx, &st, rc)
	if err != nil {
		return nil, err
	}

	if _, err := r.cfg.Saver.Save(ctx, rc.ThreadID, parent, st, writes, map[string]any{
		"source":   "loop",
		"question": st.Question,
	}); err != nil {
		return nil, err
	}
	return &st, nil
}

type turn struct {
	*Router
	rewrite bool
}

func (t *turn) step(ctx context.Context, node Node, st *State, step *nodes.Step) (Event, error) {
	o := nodes.CallOptions{
		ThreadID: step.ThreadID(),
		Agent:    Namespace,
		Node:     step.Node,
		Model:    t.cfg.ModelName,
		Timeout:  t.cfg.CallTimeout,
	}

	switch node {
	case NodeInitialRouter:
		return t.initialRouter(ctx, st, o)
	case NodeSQLAgent:
		return t.sqlAgent(ctx, st, step)
	case NodePostSQLRouter:
		return t.postSQLRouter(ctx, st, o)
	case NodeVizAgent:
		return t.vizAgent(ctx, st, step)
	case NodeProcessAnswers:
		return EventDone, ProcessAnswers(st, t.cfg.VizFailureMessage)
	case NodePruneHistory:
		var err error
		st.History, err = conversations.AddChatTurns(st.History, conversations.PruneHistory(st.History, t.cfg.QuestionLimit)...)
		return EventDone, err
	}
	return "", fmt.Errorf("unknown node %q", node)
}

func (t *turn) initialRouter(ctx context.Context, st *State, o nodes.CallOptions) (Event, error) {
	system, err := prompts.InitialRouting(ctx, t.cfg.Dialect)
	if err != nil {
		return "", err
	}
	input, err := conversations.FormatRouterInput(st.Question, st.History)
	if err != nil {
		return "", err
	}

	d, err := parsers.Generate[InitialDecision](ctx, t.cfg.Model, system, []*schema.Message{schema.UserMessage(input)}, o)
	if errors.Is(err, parsers.ErrInvalidOutput) {
		d = &InitialDecision{Next: model.RouteSQLAgent}
	} else if err != nil {
		return "", err
	}

	st.Previous = model.RouteNone
	st.Next = model.RouteSQLAgent
	if d.Next == model.RouteVizAgent {
		if len(conversations.DataFromTurns(d.DataTurnIDs, st.History)) > 0 {
			st.Next = model.RouteVizAgent
			st.DataTurnIDs = d.DataTurnIDs
			st.VizQuestion = strings.TrimSpace(d.VizQuestion)
		} else {
			logx.Info().
				Str("thread_id", o.ThreadID).
				Ints("data_turn_ids", d.DataTurnIDs).
				Msg("No data behind the referenced turns; routing to sql_agent")
		}
	}

	logx.Info().
		Str("thread_id", o.ThreadID).
		Str("next", st.Next.String()).
		Str("reasoning", d.Reasoning).
		Msg("Question routed")
	return Event(st.Next), nil
}

func (t *turn) sqlAgent(ctx context.Context, st *State, step *nodes.Step) (Event, error) {
	out, err := t.cfg.SQL.Invoke(ctx, sqlagent.Input{Question: st.Question, RewriteQuery: t.rewrite}, step.Config())
	if err != nil {
		return "", err
	}
	st.Previous = model.RouteSQLAgent
	st.SQLAnswer = out.FinalAnswer
	st.SQLQueries = out.SQLQueries
	st.SQLQueriesResults = out.SQLQueriesResults
	return EventDone, nil
}

// ResultsForRouting decodes the query results for the post-SQL routing
// call. A single result is passed unwrapped.
func ResultsForRouting(items []model.Item) any {
	decoded := make([]any, 0, len(items))
	for _, it := range items {
		var v any
		if err := json.Unmarshal([]byte(it.Content), &v); err != nil {
			v = it.Content
		}
		decoded = append(decoded, v)
	}
	if len(decoded) == 1 {
		return decoded[0]
	}
	return decoded
}

func (t *turn) postSQLRouter(ctx context.Context, st *State, o nodes.CallOptions) (Event, error) {
	if len(st.SQLQueriesResults) == 0 {
		st.Next = model.RouteProcessAnswers
		return EventProcessAnswers, nil
	}

	results, err := conversations.MarshalIndent(ResultsForRouting(st.SQLQueriesResults))
	if err != nil {
		return "", err
	}
	system, err := prompts.PostSQLRouting(ctx)
	if err != nil {
		return "", err
	}
	msg := schema.UserMessage(fmt.Sprintf("User question: %s\n\nQuery results:\n%s\n\nSQL agent answer:\n%s",
		st.Question, results, st.SQLAnswer))

	d, err := parsers.Generate[PostSQLDecision](ctx, t.cfg.Model, system, []*schema.Message{msg}, o)
	if errors.Is(err, parsers.ErrInvalidOutput) {
		d = &PostSQLDecision{Next: model.RouteProcessAnswers}
	} else if err != nil {
		return "", err
	}

	st.Next = model.RouteProcessAnswers
	if d.Next == model.RouteVizAgent {
		st.Next = model.RouteVizAgent
	}
	logx.Info().
		Str("thread_id", o.ThreadID).
		Str("next", st.Next.String()).
		Str("reasoning", d.Reasoning).
		Msg("Post-SQL route decided")
	return Event(st.Next), nil
}

func (t *turn) vizAgent(ctx context.Context, st *State, step *nodes.Step) (Event, error) {
	in := vizagent.Input{Question: st.Question}
	if st.Previous == model.RouteSQLAgent {
		in.SQLAnswer = st.SQLAnswer
		in.SQLQueries = st.SQLQueries
		in.SQLQueriesResults = st.SQLQueriesResults
	} else {
		if st.VizQuestion != "" {
			in.Question = st.VizQuestion
		}
		data, err := turnData(st.DataTurnIDs, st.History)
		if err != nil {
			return "", err
		}
		in.SQLQueriesResults = data
	}

	out, err := t.cfg.Viz.Invoke(ctx, in, step.Config())
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		logx.Warn().Err(err).
			Str("thread_id", step.ThreadID()).
			Str("previous", st.Previous.String()).
			Msg("Visualization failed; answering without a chart")
		st.Visualization = nil
		return EventDone, nil
	}
	st.Visualization = out.Visualization()
	return EventDone, nil
}

// turnData collects the results behind the referenced turns. Results from
// more than one query are merged into a single row list.
func turnData(ids []int, history []model.ChatTurn) ([]model.Item, error) {
	data := conversations.DataFromTurns(ids, history)
	if len(data) < 2 {
		return data, nil
	}
	rows := conversations.NormalizeData(data)
	if len(rows) == 0 {
		return data, nil
	}
	body, err := conversations.MarshalIndent(rows)
	if err != nil {
		return nil, err
	}
	return []model.Item{{ID: uuid.NewSHA1(uuid.NameSpaceOID, []byte(body)), Content: body}}, nil
}

// ProcessAnswers builds the final answer and appends the new chat turn.
func ProcessAnswers(st *State, vizFailure string) error {
	var data []model.Item

	switch {
	case st.Previous == model.RouteSQLAgent && st.Next == model.RouteVizAgent:
		st.FinalAnswer = st.SQLAnswer
		if st.Visualization != nil && st.Visualization.Insights != "" {
			st.FinalAnswer = st.SQLAnswer + "\n\n" + st.Visualization.Insights
		}
		data = st.SQLQueriesResults
	case st.Previous == model.RouteSQLAgent:
		st.FinalAnswer = st.SQLAnswer
		st.Visualization = nil
		data = st.SQLQueriesResults
	default:
		st.FinalAnswer = vizFailure
		if st.Visualization != nil && st.Visualization.Insights != "" {
			st.FinalAnswer = st.Visualization.Insights
		}
		data = conversations.DataFromTurns(st.DataTurnIDs, st.History)
	}

	var err error
	st.History, err = conversations.AddChatTurns(st.History, model.ChatTurn{
		ID:           conversations.NextTurnID(st.History),
		UserQuestion: st.Question,
		AIResponse:   st.FinalAnswer,
		Data:         data,
	})
	return err
}
