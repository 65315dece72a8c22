// Package app wires configuration into the running service. Both the Lambda
// entry point and the local CLI build the same graph through Build.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/redis/go-redis/v9"

	"mindspace-agent/handler"
	"mindspace-agent/internal/config"
	"mindspace-agent/internal/guardrail"
	"mindspace-agent/internal/identity"
	"mindspace-agent/internal/integrations/ollama"
	"mindspace-agent/internal/integrations/openai"
	"mindspace-agent/internal/integrations/paramstore"
	"mindspace-agent/internal/knowledge"
	"mindspace-agent/internal/llm"
	"mindspace-agent/internal/repository"
	"mindspace-agent/internal/router"
	"mindspace-agent/internal/usecase"
)

type App struct {
	Handler *handler.Handler
	Chat    *usecase.ChatService

	// Knowledge and Embedder are nil when no PostgreSQL DSN is configured.
	Knowledge *knowledge.PGStore
	Embedder  *openai.Client

	closers []func() error
}

// Build constructs every component described by cfg. AWS configuration is
// only loaded when DynamoDB or the parameter store is needed.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	a := &App{}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	// ---- AWS ----
	var params usecase.ParamGetter
	var dynamo *awsdynamodb.Client
	needsSSM := cfg.LLM.APIKey == "" || (cfg.Postgres.DSN != "" && cfg.LLM.EmbeddingAPIKey == "")
	if needsSSM || cfg.History.Backend == config.BackendDynamoDB {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("app: load aws config: %w", err)
		}
		ps, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		params = ps
		if cfg.History.Backend == config.BackendDynamoDB {
			dynamo = awsdynamodb.NewFromConfig(awsCfg)
		}
	}

	// ---- Models ----
	chatRemote, err := openai.NewClient(params, paramstore.Path(cfg.ParamPrefix, "llm-token"),
		openai.WithBaseURL(cfg.LLM.BaseURL),
		openai.WithAPIKey(cfg.LLM.APIKey),
		openai.WithModel(cfg.LLM.ChatModel),
	)
	if err != nil {
		return nil, fmt.Errorf("app: chat model: %w", err)
	}
	routerRemote, err := openai.NewClient(params, paramstore.Path(cfg.ParamPrefix, "llm-token"),
		openai.WithBaseURL(cfg.LLM.BaseURL),
		openai.WithAPIKey(cfg.LLM.APIKey),
		openai.WithModel(cfg.LLM.RouterModel),
		openai.WithTemperature(0),
	)
	if err != nil {
		return nil, fmt.Errorf("app: router model: %w", err)
	}

	var generator, guardModel llm.Generator = chatRemote, routerRemote
	if cfg.Ollama.Enabled() {
		local, err := ollama.NewClient(cfg.Ollama.URL, cfg.Ollama.Model, nil)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		if generator, err = llm.NewFallback(local, chatRemote); err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		if guardModel, err = llm.NewFallback(local, routerRemote); err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		slog.Info("local model enabled", "url", cfg.Ollama.URL, "model", local.Model())
	}

	guard, err := guardrail.New(guardModel, guardrail.WithTimeout(cfg.Timeouts.Classifier))
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	intentRouter, err := router.New(routerRemote, router.WithTimeout(cfg.Timeouts.Classifier))
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	// ---- History ----
	history, err := a.history(ctx, cfg, dynamo)
	if err != nil {
		return nil, err
	}

	// ---- Identity and knowledge ----
	var ids usecase.IdentityResolver = identity.Static(cfg.Identities)
	var retriever usecase.Retriever
	if cfg.Postgres.DSN != "" {
		db, err := knowledge.OpenDB(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.closers = append(a.closers, db.Close)

		if ids, err = postgresIdentity(db); err != nil {
			return nil, err
		}
		if retriever, err = a.knowledge(cfg, db, params); err != nil {
			return nil, err
		}
	}

	// ---- Use cases ----
	a.Chat, err = usecase.NewChatService(usecase.Dependencies{
		Identity:  ids,
		Guard:     guard,
		Router:    intentRouter,
		Generator: generator,
		History:   history,
		Retriever: retriever,
	}, usecase.Options{
		HistoryLimit:      cfg.History.Limit,
		TopK:              cfg.Knowledge.TopK,
		MaxMessageLength:  cfg.Chat.MaxMessageLength,
		StorageTimeout:    cfg.Timeouts.Storage,
		GenerationTimeout: cfg.Timeouts.Generation,
		Params:            params,
		ParamPrefix:       cfg.ParamPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	assessments, err := usecase.NewAssessmentService(ids)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	a.Handler, err = handler.NewHandler(a.Chat, assessments, handler.Options{
		RatePerSecond: cfg.Rate.PerSecond,
		RateBurst:     cfg.Rate.Burst,
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	slog.Info("service ready",
		"history_backend", cfg.History.Backend,
		"knowledge", a.Knowledge != nil,
		"chat_model", cfg.LLM.ChatModel,
		"router_model", cfg.LLM.RouterModel,
	)
	ok = true
	return a, nil
}

func (a *App) history(ctx context.Context, cfg config.Config, dynamo *awsdynamodb.Client) (usecase.HistoryStore, error) {
	switch cfg.History.Backend {
	case config.BackendDynamoDB:
		store, err := repository.New(dynamo, cfg.History.Table)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		return store, nil
	case config.BackendRedis:
		// A comma separated addr list selects a cluster client.
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    strings.Split(cfg.Redis.Addr, ","),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("app: ping redis: %w", err)
		}
		store, err := repository.NewRedisStore(client, cfg.Redis.Prefix)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		return store, nil
	case config.BackendMemory:
		return repository.NewMemoryStore(), nil
	default:
		slog.Warn("chat history disabled")
		return nil, nil
	}
}

func postgresIdentity(db *sql.DB) (usecase.IdentityResolver, error) {
	store, err := identity.NewPostgresStore(db)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	return store, nil
}

func (a *App) knowledge(cfg config.Config, db *sql.DB, params usecase.ParamGetter) (usecase.Retriever, error) {
	store, err := knowledge.NewPGStore(db, cfg.Knowledge.Table)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	embedder, err := openai.NewClient(params, paramstore.Path(cfg.ParamPrefix, "embedding-token"),
		openai.WithBaseURL(cfg.LLM.EmbeddingBaseURL),
		openai.WithAPIKey(cfg.LLM.EmbeddingAPIKey),
		openai.WithEmbeddingModel(cfg.LLM.EmbeddingModel),
	)
	if err != nil {
		return nil, fmt.Errorf("app: embeddings: %w", err)
	}
	retriever, err := knowledge.NewRetriever(embedder, store, cfg.Timeouts.Storage)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.Knowledge = store
	a.Embedder = embedder
	return retriever, nil
}

// Close releases database and cache connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
