package model

import (
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
)

// Item is a unit of SQL-agent output: either a query text or a JSON result set.
type Item struct {
	ID      uuid.UUID `json:"id"`
	Content string    `json:"content"`
}

// ItemRemove is a tombstone for the Item with the same ID.
type ItemRemove struct {
	ID uuid.UUID `json:"id"`
}

// ItemUpdate is either an Item or an ItemRemove.
type ItemUpdate interface {
	itemUpdate()
}

func (Item) itemUpdate()       {}
func (ItemRemove) itemUpdate() {}

// ChatTurn is one completed question/answer exchange and the data behind it.
type ChatTurn struct {
	ID           int    `json:"id"`
	UserQuestion string `json:"user_question"`
	AIResponse   string `json:"ai_response"`
	Data         []Item `json:"data,omitempty"`
}

// ChatTurnRemove is a tombstone for the ChatTurn with the same ID.
type ChatTurnRemove struct {
	ID int `json:"id"`
}

// ChatTurnUpdate is either a ChatTurn or a ChatTurnRemove.
type ChatTurnUpdate interface {
	chatTurnUpdate()
}

func (ChatTurn) chatTurnUpdate()       {}
func (ChatTurnRemove) chatTurnUpdate() {}

// Message is a conversation message with a stable id so it can be pruned.
type Message struct {
	ID string `json:"id"`
	*schema.Message
}

// MessageRemove is a tombstone for the Message with the same ID.
type MessageRemove struct {
	ID string `json:"id"`
}

// MessageUpdate is either a Message or a MessageRemove.
type MessageUpdate interface {
	messageUpdate()
}

func (Message) messageUpdate()       {}
func (MessageRemove) messageUpdate() {}

// NewMessage wraps msg with a fresh id.
func NewMessage(msg *schema.Message) Message {
	return Message{ID: uuid.NewString(), Message: msg}
}

// Route is the supervisor's closed set of destinations.
type Route string

const (
	RouteNone           Route = ""
	RouteSQLAgent       Route = "sql_agent"
	RouteVizAgent       Route = "viz_agent"
	RouteProcessAnswers Route = "process_answers"
)

func (r Route) String() string {
	if r == RouteNone {
		return "none"
	}
	return string(r)
}
