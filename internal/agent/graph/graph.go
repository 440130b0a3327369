package graph

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/basedosdados/chatbot-sub000/internal/agent/graph/checkpoints"
	"github.com/basedosdados/chatbot-sub000/internal/agent/graph/conversations"
	"github.com/basedosdados/chatbot-sub000/internal/agent/graph/nodes"
	"github.com/basedosdados/chatbot-sub000/internal/agent/graph/observers"
	"github.com/basedosdados/chatbot-sub000/internal/agent/graph/router"
	"github.com/basedosdados/chatbot-sub000/internal/agent/graph/sqlagent"
	"github.com/basedosdados/chatbot-sub000/internal/agent/graph/vizagent"
	"github.com/basedosdados/chatbot-sub000/internal/agent/model"
	errx "github.com/basedosdados/chatbot-sub000/internal/core/error"
	logx "github.com/basedosdados/chatbot-sub000/pkg/logger"
)

// User-facing messages for failed turns.
const (
	UnexpectedMessage = "Oops, something went wrong. Please try again, " +
		"and let us know if the problem persists."
	ContextOverflowMessage = "Your last message went over the size limit of this conversation. " +
		"Try splitting the request into smaller parts or start a new conversation."
)

// Runner answers questions on conversation threads.
type Runner interface {
	Invoke(ctx context.Context, in model.QueryInput) (*model.RunState, error)
	Stream(ctx context.Context, in model.QueryInput) <-chan model.StreamEvent
	ClearThread(ctx context.Context, threadID string) error
}

// Config holds everything needed to assemble the assistant.
type Config struct {
	Models   *nodes.ChatModels
	Provider model.ContextProvider
	// Examples is optional few-shot retrieval.
	Examples model.ExampleProvider
	// Repo is optional; without it threads are not persisted.
	Repo model.CheckpointRepository
	// Locker is optional; with it turns on the same thread run one at a time.
	Locker model.ThreadLocker

	Agent model.AgentConfig
	// ContextWindow is the SQL model's input token limit, used to explain failures.
	ContextWindow int
	Verbose       bool
}

// Assistant runs the router with its SQL and visualization agents.
type Assistant struct {
	router    *router.Router
	repo      model.CheckpointRepository
	locker    model.ThreadLocker
	agent     model.AgentConfig
	window    int
	callbacks callbacks.Handler
}

// BuildAssistant wires the three agents to the chat models, the context
// provider and the checkpoint store.
func BuildAssistant(ctx context.Context, cfg Config) (*Assistant, error) {
	if cfg.Models == nil || cfg.Models.Router == nil || cfg.Models.SQL == nil || cfg.Models.Viz == nil {
		return nil, fmt.Errorf("chat models are not properly initialized")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("context provider is nil")
	}

	sql, err := sqlagent.New(ctx, sqlagent.Config{
		Model:          cfg.Models.SQL,
		ModelName:      cfg.Models.SQLModelName,
		Provider:       cfg.Provider,
		Examples:       cfg.Examples,
		Saver:          checkpoints.NewSaver(cfg.Repo, sqlagent.Namespace),
		QuestionLimit:  cfg.Agent.QuestionLimit,
		FewShotK:       cfg.Agent.FewShotK,
		ApologyMessage: cfg.Agent.ApologyMessage,
		CallTimeout:    cfg.Agent.CallTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("error building sql agent: %w", err)
	}

	viz, err := vizagent.New(vizagent.Config{
		Model:         cfg.Models.Viz,
		ModelName:     cfg.Models.VizModelName,
		Examples:      cfg.Examples,
		Saver:         checkpoints.NewSaver(cfg.Repo, vizagent.Namespace),
		QuestionLimit: cfg.Agent.QuestionLimit,
		FewShotK:      cfg.Agent.FewShotK,
		CallTimeout:   cfg.Agent.CallTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("error building viz agent: %w", err)
	}

	r, err := router.New(router.Config{
		Model:             cfg.Models.Router,
		ModelName:         cfg.Models.RouterModelName,
		SQL:               sql,
		Viz:               viz,
		Saver:             checkpoints.NewSaver(cfg.Repo, router.Namespace),
		Dialect:           cfg.Provider.Dialect(),
		QuestionLimit:     cfg.Agent.QuestionLimit,
		VizFailureMessage: cfg.Agent.VizFailureMessage,
		CallTimeout:       cfg.Agent.CallTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("error building router: %w", err)
	}

	if cfg.Agent.ApologyMessage == "" {
		cfg.Agent.ApologyMessage = model.DefaultApologyMessage
	}

	logx.Debug().Str("dialect", cfg.Provider.Dialect()).Msg("Assistant built successfully")
	return &Assistant{
		router:    r,
		repo:      cfg.Repo,
		locker:    cfg.Locker,
		agent:     cfg.Agent,
		window:    cfg.ContextWindow,
		callbacks: observers.NewAllCallbacks(observers.Options{Verbose: cfg.Verbose}),
	}, nil
}

// Invoke runs one turn and returns the router state. Failed turns return an
// *errx.AppError whose Message is safe to show to the user.
func (a *Assistant) Invoke(ctx context.Context, in model.QueryInput) (*model.RunState, error) {
	var (
		final  *model.RunState
		runErr error
	)
	for ev := range a.Stream(ctx, in) {
		switch ev.Kind {
		case model.EventComplete:
			final = ev.Final
		case model.EventError:
			runErr = ev.Err
		}
	}
	if runErr != nil {
		return nil, runErr
	}
	if final == nil {
		return nil, errx.New(ctx.Err(), http.StatusInternalServerError, UnexpectedMessage)
	}
	return final, nil
}

// Stream runs one turn in the background. The channel receives every step
// and tool event and is closed after a complete or an error event.
func (a *Assistant) Stream(ctx context.Context, in model.QueryInput) <-chan model.StreamEvent {
	ch := make(chan model.StreamEvent, 16)
	go func() {
		defer close(ch)
		a.run(ctx, in, ch)
	}()
	return ch
}

func (a *Assistant) run(ctx context.Context, in model.QueryInput, ch chan<- model.StreamEvent) {
	send := func(ev model.StreamEvent) {
		select {
		case ch <- ev:
		case <-ctx.Done():
		}
	}

	if strings.TrimSpace(in.ThreadID) == "" {
		in.ThreadID = uuid.NewString()
		logx.Info().Str("thread_id", in.ThreadID).Msg("No thread id given; starting a new thread")
	}
	limit := in.RecursionLimit
	if limit <= 0 {
		limit = a.agent.RecursionLimit
	}

	if a.locker != nil {
		unlock, err := a.locker.Lock(ctx, in.ThreadID)
		if err != nil {
			logx.Error().Err(err).Str("thread_id", in.ThreadID).Msg("Error locking thread")
			send(model.StreamEvent{Kind: model.EventError, Content: UnexpectedMessage, Err: errx.New(err, http.StatusConflict, UnexpectedMessage)})
			return
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				logx.Warn().Err(err).Str("thread_id", in.ThreadID).Msg("Error unlocking thread")
			}
		}()
	}

	// messages of the last agent snapshot, to explain provider errors
	var lastMessages []model.Message
	emit := func(ev model.StreamEvent) {
		switch s := ev.State.(type) {
		case sqlagent.State:
			lastMessages = s.Messages
		case vizagent.State:
			lastMessages = s.Messages
		}
		send(ev)
	}

	ctx = callbacks.InitCallbacks(ctx, &callbacks.RunInfo{Name: "assistant"}, a.callbacks)
	st, err := a.router.Invoke(ctx, in, nodes.RunConfig{
		ThreadID:       in.ThreadID,
		RecursionLimit: limit,
		Emit:           emit,
	})

	switch {
	case err == nil:
	case errors.Is(err, nodes.ErrRecursionLimit):
		logx.Warn().Err(err).Str("thread_id", in.ThreadID).Msg("Recursion limit reached; answering with apology")
		st = &model.RunState{Question: strings.TrimSpace(in.Question), FinalAnswer: a.agent.ApologyMessage}
	default:
		appErr := a.classify(err, conversations.Schema(lastMessages))
		logx.Error().Err(err).
			Str("thread_id", in.ThreadID).
			Int("status", appErr.Status).
			Msg("Error answering question")
		send(model.StreamEvent{Kind: model.EventError, Content: appErr.Message, Err: appErr})
		return
	}

	send(model.StreamEvent{Kind: model.EventAnswer, Content: st.FinalAnswer})
	send(model.StreamEvent{Kind: model.EventComplete, Final: st})
}

// classify maps a failed turn to a user-facing error.
func (a *Assistant) classify(err error, msgs []*schema.Message) *errx.AppError {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return errx.New(err, http.StatusGatewayTimeout, UnexpectedMessage)
	}
	if model.ExceedsContext(msgs, a.window) {
		return errx.New(err, http.StatusRequestEntityTooLarge, ContextOverflowMessage)
	}
	return errx.New(err, http.StatusInternalServerError, UnexpectedMessage)
}

// ClearThread deletes every checkpoint of the thread, for all agents.
func (a *Assistant) ClearThread(ctx context.Context, threadID string) error {
	if a.repo == nil {
		logx.Info().Str("thread_id", threadID).Msg("No checkpoint store configured; nothing to clear")
		return nil
	}
	if a.locker != nil {
		unlock, err := a.locker.Lock(ctx, threadID)
		if err != nil {
			return err
		}
		defer func() { _ = unlock(context.WithoutCancel(ctx)) }()
	}
	if err := a.repo.Delete(ctx, threadID); err != nil {
		logx.Error().Err(err).Str("thread_id", threadID).Msg("Error clearing thread")
		return err
	}
	logx.Info().Str("thread_id", threadID).Msg("Deleted checkpoints for thread")
	return nil
}

var _ Runner = (*Assistant)(nil)
