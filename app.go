package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	goredis "github.com/redis/go-redis/v9"

	"github.com/basedosdados/chatbot-sub000/internal/agent/graph"
	"github.com/basedosdados/chatbot-sub000/internal/agent/graph/nodes"
	"github.com/basedosdados/chatbot-sub000/internal/agent/model"
	"github.com/basedosdados/chatbot-sub000/internal/agent/repo"
	"github.com/basedosdados/chatbot-sub000/internal/core"
	"github.com/basedosdados/chatbot-sub000/internal/datasource"
	"github.com/basedosdados/chatbot-sub000/internal/vectorstore"
	logx "github.com/basedosdados/chatbot-sub000/pkg/logger"
	pkgpostgres "github.com/basedosdados/chatbot-sub000/pkg/postgres"
	pkgredis "github.com/basedosdados/chatbot-sub000/pkg/redis"
)

// AppConfig defines every configurable parameter, sourced from environment
// variables (loaded from .env for local runs).
type AppConfig struct {
	Environment core.Environment `envconfig:"APP_ENV" default:"development"`
	LogLevel    string           `envconfig:"LOG_LEVEL"`
	Verbose     bool             `envconfig:"VERBOSE" default:"false"`

	// Infrastructure
	Redis    pkgredis.Config
	Postgres pkgpostgres.Config

	// LLM provider and per-agent models
	Provider model.ProviderConfig
	Router   model.ModelConfig `envconfig:"ROUTER"`
	SQL      model.ModelConfig `envconfig:"SQL"`
	Viz      model.ModelConfig `envconfig:"VIZ"`

	Agent       model.AgentConfig
	Checkpoint  model.CheckpointConfig
	Datasource  model.DatasourceConfig
	VectorStore model.VectorStoreConfig
}

func loadConfig() (*AppConfig, error) {
	if err := godotenv.Load(".env"); err != nil {
		logx.Warn().Err(err).Msg("Could not load .env file")
	}

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process environment config: %w", err)
	}
	logx.Init(logx.LoggerOpts{Environment: cfg.Environment, Level: cfg.LogLevel})
	return &cfg, nil
}

// app owns the connections opened for one command.
type app struct {
	cfg      *AppConfig
	pool     *pgxpool.Pool
	rdb      *goredis.Client
	repo     model.CheckpointRepository
	locker   model.ThreadLocker
	examples *vectorstore.ExampleStore
	sqlIndex *vectorstore.PGRetriever
	vizIndex *vectorstore.PGRetriever
	indexer  *vectorstore.GeminiEmbedder
	closers  []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logx.Warn().Err(err).Msg("Error closing resource")
		}
	}
}

func (a *app) postgres(ctx context.Context) (*pgxpool.Pool, error) {
	if a.pool != nil {
		return a.pool, nil
	}
	pool, err := a.cfg.Postgres.New(ctx)
	if err != nil {
		logx.Error().Err(err).Msg("Failed to initialise Postgres pool")
		return nil, err
	}
	a.pool = pool
	a.closers = append(a.closers, func() error { pool.Close(); return nil })
	return pool, nil
}

func (a *app) redis(ctx context.Context) (*goredis.Client, error) {
	if a.rdb != nil {
		return a.rdb, nil
	}
	rdb, err := a.cfg.Redis.New(ctx)
	if err != nil {
		logx.Error().Err(err).Msg("Failed to initialise Redis client")
		return nil, err
	}
	a.rdb = rdb
	a.closers = append(a.closers, rdb.Close)
	return rdb, nil
}

// openStorage opens the checkpoint repository and, for Redis, the thread lock.
func (a *app) openStorage(ctx context.Context) error {
	cc := a.cfg.Checkpoint
	switch cc.Backend {
	case model.CheckpointPostgres:
		pool, err := a.postgres(ctx)
		if err != nil {
			return err
		}
		a.repo = repo.NewPostgresCheckpointRepository(pool)
	case model.CheckpointRedis:
		rdb, err := a.redis(ctx)
		if err != nil {
			return err
		}
		a.repo = repo.NewRedisCheckpointRepository(rdb, cc.TTL)
		a.locker = repo.NewRedisThreadLock(rdb, cc.LockTTL)
	case model.CheckpointSQLite:
		r, err := repo.OpenSQLite(cc.SQLitePath)
		if err != nil {
			return err
		}
		a.repo = r
		a.closers = append(a.closers, r.Close)
	case model.CheckpointNone, "":
		logx.Warn().Msg("Checkpointing disabled; conversations will not be remembered")
	default:
		return fmt.Errorf("unsupported checkpoint backend %q", cc.Backend)
	}
	logx.Info().Str("backend", cc.Backend).Bool("locking", a.locker != nil).Msg("Checkpoint storage ready")
	return nil
}

// openExamples wires the pgvector example store when enabled.
func (a *app) openExamples(ctx context.Context) error {
	vc := a.cfg.VectorStore
	if !vc.Enabled {
		return nil
	}
	if a.cfg.Provider.Name != model.ProviderGemini && a.cfg.Provider.Name != "" {
		return errors.New("vector store embeddings require the gemini provider")
	}
	pool, err := a.postgres(ctx)
	if err != nil {
		return err
	}
	client, err := nodes.NewGeminiClient(ctx, a.cfg.Provider)
	if err != nil {
		return err
	}

	emb := vectorstore.NewGeminiEmbedder(client, vc.EmbeddingModel, vc.Dimensions)
	a.indexer = emb.ForDocuments()
	a.sqlIndex = vectorstore.NewPGRetriever(pool, vc.SQLTable, emb, a.cfg.Agent.FewShotK)
	a.vizIndex = vectorstore.NewPGRetriever(pool, vc.VizTable, emb, a.cfg.Agent.FewShotK)
	a.examples = vectorstore.NewExampleStore(a.sqlIndex, a.vizIndex)
	logx.Info().Str("sql_table", vc.SQLTable).Str("viz_table", vc.VizTable).Msg("Example store ready")
	return nil
}

func newApp(ctx context.Context, cfg *AppConfig) (*app, error) {
	a := &app{cfg: cfg}
	if err := a.openStorage(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openExamples(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// assistant opens the warehouse and the chat models and builds the runner.
func (a *app) assistant(ctx context.Context) (*graph.Assistant, error) {
	provider, err := datasource.Open(ctx, a.cfg.Datasource)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, provider.Close)

	models, err := nodes.NewChatModels(ctx, nodes.ChatModelConfig{
		Provider: a.cfg.Provider,
		Router:   a.cfg.Router,
		SQL:      a.cfg.SQL,
		Viz:      a.cfg.Viz,
	})
	if err != nil {
		return nil, err
	}

	cfg := graph.Config{
		Models:        models,
		Provider:      provider,
		Repo:          a.repo,
		Locker:        a.locker,
		Agent:         a.cfg.Agent,
		ContextWindow: a.cfg.SQL.ContextWindow,
		Verbose:       a.cfg.Verbose,
	}
	if a.examples != nil {
		cfg.Examples = a.examples
	}
	return graph.BuildAssistant(ctx, cfg)
}
