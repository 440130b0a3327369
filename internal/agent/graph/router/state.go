package router

import (
	"github.com/basedosdados/chatbot-sub000/internal/agent/model"
)

// Namespace is the checkpoint namespace of the router.
const Namespace = "router"

// State is the router's state; History is the only part kept across turns.
type State = model.RunState

// InitialDecision is the structured reply of the first routing call.
type InitialDecision struct {
	Next        model.Route `json:"next" jsonschema:"required,enum=sql_agent,enum=viz_agent,description=The agent to call next"`
	Reasoning   string      `json:"reasoning" jsonschema:"description=Brief reasoning for the choice"`
	DataTurnIDs []int       `json:"data_turn_ids,omitempty" jsonschema:"description=turn_id values whose data should be plotted when next is viz_agent"`
	VizQuestion string      `json:"question_for_viz_agent,omitempty" jsonschema:"description=Standalone description of the chart to build when next is viz_agent"`
}

// PostSQLDecision is the structured reply of the routing call after the
// SQL agent answered.
type PostSQLDecision struct {
	Next      model.Route `json:"next" jsonschema:"required,enum=viz_agent,enum=process_answers,description=The step to run next"`
	Reasoning string      `json:"reasoning" jsonschema:"description=Brief reasoning for the choice"`
}

type Node string

const (
	NodeInitialRouter  Node = "initial_router"
	NodeSQLAgent       Node = "sql_agent"
	NodePostSQLRouter  Node = "post_sql_router"
	NodeVizAgent       Node = "viz_agent"
	NodeProcessAnswers Node = "process_answers"
	NodePruneHistory   Node = "prune_history"
	NodeEnd            Node = "__end__"
)

type Event string

const (
	EventDone           Event = "done"
	EventSQLAgent       Event = Event(model.RouteSQLAgent)
	EventVizAgent       Event = Event(model.RouteVizAgent)
	EventProcessAnswers Event = Event(model.RouteProcessAnswers)
)

type edge struct {
	from Node
	on   Event
}

var transitions = map[edge]Node{
	{NodeInitialRouter, EventSQLAgent}:       NodeSQLAgent,
	{NodeInitialRouter, EventVizAgent}:       NodeVizAgent,
	{NodeSQLAgent, EventDone}:                NodePostSQLRouter,
	{NodePostSQLRouter, EventVizAgent}:       NodeVizAgent,
	{NodePostSQLRouter, EventProcessAnswers}: NodeProcessAnswers,
	{NodeVizAgent, EventDone}:                NodeProcessAnswers,
	{NodeProcessAnswers, EventDone}:          NodePruneHistory,
	{NodePruneHistory, EventDone}:            NodeEnd,
}

func Transition(from Node, on Event) (Node, bool) {
	next, ok := transitions[edge{from, on}]
	return next, ok
}
