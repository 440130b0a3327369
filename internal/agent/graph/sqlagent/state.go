package sqlagent

import (
	"github.com/basedosdados/chatbot-sub000/internal/agent/model"
)

// Namespace is the checkpoint namespace of the SQL agent.
const Namespace = "sql_agent"

// State is the SQL agent's state. Only Messages matters across turns; the
// SQL artifacts are cleared at the start of every run.
type State struct {
	Question          string             `json:"question"`
	RewrittenQuestion string             `json:"rewritten_question"`
	FinalAnswer       string             `json:"final_answer"`
	SQLQueries        []model.Item       `json:"sql_queries"`
	SQLQueriesResults []model.Item       `json:"sql_queries_results"`
	Datasets          []string           `json:"selected_datasets"`
	Examples          []model.SQLExample `json:"few_shot_sql_examples"`
	Messages          []model.Message    `json:"messages"`
}

// Input is one question for the SQL agent.
type Input struct {
	Question     string
	RewriteQuery bool
}

// Node names the steps of the SQL agent.
type Node string

const (
	NodeClearSQL         Node = "clear_sql"
	NodeRewriteQuery     Node = "rewrite_query"
	NodeCallListDatasets Node = "call_list_datasets"
	NodeListDatasets     Node = "list_datasets"
	NodeSelectDatasets   Node = "select_datasets"
	NodeTablesInfo       Node = "tables_info"
	NodeGetSQLExamples   Node = "get_sql_examples"
	NodeQueryAgent       Node = "query_agent"
	NodeTools            Node = "tools"
	NodeGetAnswer        Node = "get_answer"
	NodePruneMessages    Node = "prune_messages"
	NodeEnd              Node = "__end__"
)

// Event is what a node reports when it finishes.
type Event string

const (
	EventDone      Event = "done"
	EventToolCalls Event = "tool_calls"
	EventAnswer    Event = "answer"
	EventToolError Event = "tool_error"
	EventApology   Event = "apology"
)

type edge struct {
	from Node
	on   Event
}

var transitions = map[edge]Node{
	{NodeClearSQL, EventDone}:            NodeRewriteQuery,
	{NodeRewriteQuery, EventDone}:        NodeCallListDatasets,
	{NodeCallListDatasets, EventDone}:    NodeListDatasets,
	{NodeListDatasets, EventDone}:        NodeSelectDatasets,
	{NodeSelectDatasets, EventToolCalls}: NodeTablesInfo,
	{NodeSelectDatasets, EventApology}:   NodeGetAnswer,
	{NodeTablesInfo, EventToolError}:     NodeSelectDatasets,
	{NodeTablesInfo, EventDone}:          NodeGetSQLExamples,
	{NodeGetSQLExamples, EventDone}:      NodeQueryAgent,
	{NodeQueryAgent, EventToolCalls}:     NodeTools,
	{NodeQueryAgent, EventAnswer}:        NodeGetAnswer,
	{NodeQueryAgent, EventApology}:       NodeGetAnswer,
	{NodeTools, EventDone}:               NodeQueryAgent,
	{NodeGetAnswer, EventDone}:           NodePruneMessages,
	{NodePruneMessages, EventDone}:       NodeEnd,
}

// Transition is the SQL agent's transition table.
func Transition(from Node, on Event) (Node, bool) {
	next, ok := transitions[edge{from, on}]
	return next, ok
}
