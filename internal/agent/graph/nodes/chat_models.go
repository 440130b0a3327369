package nodes

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	einomodel "github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"

	"github.com/basedosdados/chatbot-sub000/internal/agent/model"
	logx "github.com/basedosdados/chatbot-sub000/pkg/logger"
)

// ChatModelConfig holds the configuration for chat model creation
type ChatModelConfig struct {
	Provider model.ProviderConfig
	Router   model.ModelConfig
	SQL      model.ModelConfig
	Viz      model.ModelConfig
}

// ChatModels holds one chat model per agent
type ChatModels struct {
	Router einomodel.ToolCallingChatModel
	SQL    einomodel.ToolCallingChatModel
	Viz    einomodel.ToolCallingChatModel

	RouterModelName string
	SQLModelName    string
	VizModelName    string
}

// NewChatModels creates the router, SQL and visualization chat models for the configured provider
func NewChatModels(ctx context.Context, config ChatModelConfig) (*ChatModels, error) {
	var gclient *genai.Client
	if config.Provider.Name == model.ProviderGemini || config.Provider.Name == "" {
		var err error
		gclient, err = NewGeminiClient(ctx, config.Provider)
		if err != nil {
			return nil, err
		}
	}

	build := func(name string, mc model.ModelConfig) (einomodel.ToolCallingChatModel, error) {
		cm, err := newChatModel(ctx, config.Provider, mc, gclient)
		if err != nil {
			logx.Error().Err(err).Str("agent", name).Str("model", mc.Model).Msg("Error creating chat model")
			return nil, fmt.Errorf("error creating %s model: %w", name, err)
		}
		return cm, nil
	}

	router, err := build("router", config.Router)
	if err != nil {
		return nil, err
	}
	sql, err := build("sql", config.SQL)
	if err != nil {
		return nil, err
	}
	viz, err := build("viz", config.Viz)
	if err != nil {
		return nil, err
	}

	return &ChatModels{
		Router:          router,
		SQL:             sql,
		Viz:             viz,
		RouterModelName: config.Router.Model,
		SQLModelName:    config.SQL.Model,
		VizModelName:    config.Viz.Model,
	}, nil
}

// NewGeminiClient creates the genai client shared by chat models and embedders.
func NewGeminiClient(ctx context.Context, p model.ProviderConfig) (*genai.Client, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  p.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if p.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = p.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}
	return client, nil
}

func newChatModel(ctx context.Context, p model.ProviderConfig, mc model.ModelConfig, gclient *genai.Client) (einomodel.ToolCallingChatModel, error) {
	temperature := mc.Temperature
	maxTokens := mc.MaxTokens

	switch p.Name {
	case model.ProviderGemini, "":
		cfg := &gemini.Config{
			Client:      gclient,
			Model:       mc.Model,
			Temperature: &temperature,
			MaxTokens:   &maxTokens,
		}
		if mc.ThinkingBudget > 0 {
			cfg.ThinkingConfig = &genai.ThinkingConfig{
				IncludeThoughts: false,
				ThinkingBudget:  genai.Ptr(mc.ThinkingBudget),
			}
		}
		return gemini.NewChatModel(ctx, cfg)

	case model.ProviderOpenAI:
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			APIKey:      p.APIKey,
			BaseURL:     p.BaseURL,
			Model:       mc.Model,
			Temperature: &temperature,
			MaxTokens:   &maxTokens,
		})

	case model.ProviderAnthropic:
		return NewAnthropicChatModel(AnthropicConfig{
			APIKey:      p.APIKey,
			BaseURL:     p.BaseURL,
			Model:       mc.Model,
			MaxTokens:   maxTokens,
			Temperature: &temperature,
		}), nil
	}

	return nil, fmt.Errorf("unsupported LLM provider %q", p.Name)
}
