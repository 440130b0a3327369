package vizagent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/basedosdados/chatbot-sub000/internal/agent/graph/checkpoints"
	"github.com/basedosdados/chatbot-sub000/internal/agent/graph/conversations"
	"github.com/basedosdados/chatbot-sub000/internal/agent/graph/nodes"
	"github.com/basedosdados/chatbot-sub000/internal/agent/graph/parsers"
	"github.com/basedosdados/chatbot-sub000/internal/agent/graph/prompts"
	"github.com/basedosdados/chatbot-sub000/internal/agent/model"
	logx "github.com/basedosdados/chatbot-sub000/pkg/logger"
)

type Config struct {
	Model     einomodel.BaseChatModel
	ModelName string
	// Examples is optional; without it no few-shot chart examples are used.
	Examples model.ExampleProvider
	Saver    *checkpoints.Saver

	QuestionLimit int
	FewShotK      int
	CallTimeout   time.Duration
}

// Agent turns query results into a chart recommendation and a short text
// introducing it.
type Agent struct {
	cfg Config
}

func New(cfg Config) (*Agent, error) {
	if cfg.Model == nil {
		return nil, errors.New("viz agent: model is required")
	}
	return &Agent{cfg: cfg}, nil
}

// Invoke runs the pipeline over the given data.
func (a *Agent) Invoke(ctx context.Context, in Input, rc nodes.RunConfig) (*State, error) {
	var st State
	parent, err := a.cfg.Saver.Load(ctx, rc.ThreadID, &st)
	if err != nil {
		return nil, err
	}

	st.Question = strings.TrimSpace(in.Question)
	st.SQLAnswer = in.SQLAnswer
	st.SQLQueries = in.SQLQueries
	st.SQLQueriesResults = in.SQLQueriesResults
	st.RephrasedQuestion = ""
	st.ChartAnswer = ""
	st.ChartData = nil
	st.ChartMetadata = nil
	st.Chart = nil
	st.Examples = nil

	m := &nodes.Machine[Node, Event, State]{
		Name:       Namespace,
		Start:      NodeRephrase,
		End:        NodeEnd,
		Transition: Transition,
		Run:        a.step,
	}
	writes, err := m.Execute(ctx, &st, rc)
	if err != nil {
		return nil, err
	}

	if _, err := a.cfg.Saver.Save(ctx, rc.ThreadID, parent, st, writes, map[string]any{
		"source":   "loop",
		"question": st.Question,
	}); err != nil {
		return nil, err
	}
	return &st, nil
}

func (a *Agent) step(ctx context.Context, node Node, st *State, step *nodes.Step) (Event, error) {
	o := nodes.CallOptions{
		ThreadID: step.ThreadID(),
		Agent:    Namespace,
		Node:     step.Node,
		Model:    a.cfg.ModelName,
		Timeout:  a.cfg.CallTimeout,
	}

	var err error
	switch node {
	case NodeRephrase:
		err = a.rephrase(ctx, st, o)
	case NodeGetData:
		err = a.getData(st)
	case NodePreprocessData:
		err = a.preprocessData(ctx, st, o)
	case NodeGetMetadata:
		err = a.getMetadata(ctx, st, o)
	case NodeGetAnswer:
		err = a.getAnswer(ctx, st, o)
	case NodePruneMessages:
		st.Messages, err = conversations.AddMessages(st.Messages, conversations.PruneMessages(st.Messages, a.cfg.QuestionLimit)...)
	default:
		err = fmt.Errorf("unknown node %q", node)
	}
	if err != nil {
		return "", err
	}
	return EventDone, nil
}

func (a *Agent) rephrase(ctx context.Context, st *State, o nodes.CallOptions) error {
	st.RephrasedQuestion = st.Question

	system, err := prompts.RephraseViz(ctx)
	if err != nil {
		return err
	}
	out, err := parsers.Generate[Rephrase](ctx, a.cfg.Model, system, []*schema.Message{schema.UserMessage(st.Question)}, o)
	if errors.Is(err, parsers.ErrInvalidOutput) {
		return nil
	}
	if err != nil {
		return err
	}
	if r := strings.TrimSpace(out.Rephrased); r != "" {
		st.RephrasedQuestion = r
	}
	return nil
}

// DataMessage renders the question with the queries and their results.
func DataMessage(question string, queries, results []model.Item) string {
	wrap := func(tag string, items []model.Item) string {
		parts := make([]string, 0, len(items))
		for _, it := range items {
			parts = append(parts, "<"+tag+">\n"+it.Content+"\n</"+tag+">")
		}
		if len(parts) == 0 {
			return ""
		}
		return "\n" + strings.Join(parts, "\n\n")
	}
	return fmt.Sprintf("User question: %s\n\nQueries:%s\n\nQueries results:%s",
		question, wrap("query", queries), wrap("query_results", results))
}

func (a *Agent) getData(st *State) error {
	msg := schema.UserMessage(DataMessage(st.RephrasedQuestion, st.SQLQueries, st.SQLQueriesResults))
	var err error
	st.Messages, err = conversations.AddMessages(st.Messages, conversations.Wrap(msg)...)
	return err
}

func (a *Agent) preprocessData(ctx context.Context, st *State, o nodes.CallOptions) error {
	if a.cfg.Examples != nil && a.cfg.FewShotK > 0 {
		examples, err := a.cfg.Examples.VizExamples(ctx, st.RephrasedQuestion, a.cfg.FewShotK)
		if err != nil {
			logx.Warn().Err(err).Str("thread_id", o.ThreadID).Msg("Chart example lookup failed; continuing without examples")
		}
		st.Examples = examples
	}

	system, err := prompts.ChartPreprocess(ctx, st.Examples)
	if err != nil {
		return err
	}
	data, err := parsers.Generate[model.ChartData](ctx, a.cfg.Model, system, conversations.Schema(st.Messages), o)
	if errors.Is(err, parsers.ErrInvalidOutput) {
		data = &model.ChartData{}
	} else if err != nil {
		return err
	}
	st.ChartData = data

	body, err := conversations.MarshalIndent(data)
	if err != nil {
		return err
	}
	st.Messages, err = conversations.AddMessages(st.Messages, conversations.Wrap(schema.AssistantMessage(body, nil))...)
	return err
}

func (a *Agent) getMetadata(ctx context.Context, st *State, o nodes.CallOptions) error {
	data, err := conversations.MarshalIndent(st.ChartData.Data)
	if err != nil {
		return err
	}
	system, err := prompts.ChartMetadata(ctx)
	if err != nil {
		return err
	}
	msg := schema.UserMessage(fmt.Sprintf("User question: %s\n\nQuery results: %s", st.RephrasedQuestion, data))

	meta, err := parsers.Generate[model.ChartMetadata](ctx, a.cfg.Model, system, []*schema.Message{msg}, o)
	if errors.Is(err, parsers.ErrInvalidOutput) {
		meta = &model.ChartMetadata{}
	} else if err != nil {
		return err
	}
	st.ChartMetadata = meta
	return nil
}

func (a *Agent) getAnswer(ctx context.Context, st *State, o nodes.CallOptions) error {
	chart := &model.Chart{Metadata: *st.ChartMetadata}
	if st.ChartData != nil {
		chart.Data = st.ChartData.Data
	}
	chart.IsValid = Validate(chart.Data, chart.Metadata)
	if !chart.IsValid {
		logx.Info().
			Str("thread_id", o.ThreadID).
			Strs("columns", chart.Data.Names()).
			Msg("Chart is not plottable")
	}

	body, err := conversations.MarshalIndent(chart)
	if err != nil {
		return err
	}
	system, err := prompts.ValidationViz(ctx)
	if err != nil {
		return err
	}
	out, err := nodes.Generate(ctx, a.cfg.Model, []*schema.Message{
		schema.SystemMessage(system),
		schema.UserMessage("User question: " + st.Question),
		schema.UserMessage("Question answer: \n\n" + st.SQLAnswer),
		schema.UserMessage("Chart: " + body),
	}, o)
	if err != nil {
		return err
	}

	answer := out.Content
	if st.SQLAnswer != "" {
		answer = strings.ReplaceAll(answer, st.SQLAnswer, "")
	}
	st.Chart = chart
	st.ChartAnswer = strings.TrimSpace(answer)
	return nil
}

// Validate reports whether a chart can be drawn: there is at least one row,
// a chart type, and the axis and label columns are exactly the data's columns.
func Validate(data model.Columns, meta model.ChartMetadata) bool {
	if !hasRows(data) || meta.ChartType == nil {
		return false
	}
	if meta.XAxis == nil || meta.YAxis == nil {
		return false
	}

	want := map[string]bool{*meta.XAxis: true, *meta.YAxis: true}
	if meta.Label != nil && *meta.Label != "" {
		want[*meta.Label] = true
	}
	if len(want) != len(data) {
		return false
	}
	for col := range want {
		if _, ok := data[col]; !ok {
			return false
		}
	}
	return true
}

func hasRows(data model.Columns) bool {
	for _, values := range data {
		if len(values) > 0 {
			return true
		}
	}
	return false
}
