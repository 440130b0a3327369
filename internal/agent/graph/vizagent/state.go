package vizagent

import (
	"github.com/basedosdados/chatbot-sub000/internal/agent/model"
)

// Namespace is the checkpoint namespace of the visualization agent.
const Namespace = "viz_agent"

// State is the visualization agent's state. The queries and results are
// replaced by every run; Messages carries the data exchanges across turns.
type State struct {
	Question          string               `json:"question"`
	RephrasedQuestion string               `json:"question_rephrased"`
	SQLAnswer         string               `json:"sql_answer"`
	ChartAnswer       string               `json:"chart_answer"`
	SQLQueries        []model.Item         `json:"sql_queries"`
	SQLQueriesResults []model.Item         `json:"sql_queries_results"`
	Examples          []model.VizExample   `json:"few_shot_viz_examples"`
	ChartData         *model.ChartData     `json:"chart_data"`
	ChartMetadata     *model.ChartMetadata `json:"chart_metadata"`
	Chart             *model.Chart         `json:"chart"`
	Messages          []model.Message      `json:"messages"`
}

// Visualization returns the chart and its introduction, or nil before
// get_answer has run.
func (s *State) Visualization() *model.Visualization {
	if s.Chart == nil {
		return nil
	}
	return &model.Visualization{Chart: *s.Chart, Insights: s.ChartAnswer}
}

// Input is the data to plot and the question it answers.
type Input struct {
	Question          string
	SQLAnswer         string
	SQLQueries        []model.Item
	SQLQueriesResults []model.Item
}

// Rephrase is the structured reply of the rephrase step.
type Rephrase struct {
	Original  string `json:"original" jsonschema:"description=The original user question"`
	Rephrased string `json:"rephrased" jsonschema:"required,description=The rephrased user question"`
}

type Node string

const (
	NodeRephrase       Node = "rephrase"
	NodeGetData        Node = "get_data"
	NodePreprocessData Node = "preprocess_data"
	NodeGetMetadata    Node = "get_metadata"
	NodeGetAnswer      Node = "get_answer"
	NodePruneMessages  Node = "prune_messages"
	NodeEnd            Node = "__end__"
)

type Event string

const EventDone Event = "done"

var transitions = map[Node]Node{
	NodeRephrase:       NodeGetData,
	NodeGetData:        NodePreprocessData,
	NodePreprocessData: NodeGetMetadata,
	NodeGetMetadata:    NodeGetAnswer,
	NodeGetAnswer:      NodePruneMessages,
	NodePruneMessages:  NodeEnd,
}

// Transition moves along the fixed pipeline.
func Transition(from Node, on Event) (Node, bool) {
	if on != EventDone {
		return "", false
	}
	next, ok := transitions[from]
	return next, ok
}
