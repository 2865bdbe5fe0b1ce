package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"google.golang.org/genai"

	"github.com/aidesk-core/server/internal/agent"
	"github.com/aidesk-core/server/internal/agent/escalate"
	"github.com/aidesk-core/server/internal/agent/graph"
	"github.com/aidesk-core/server/internal/agent/graph/conversations"
	"github.com/aidesk-core/server/internal/agent/graph/nodes"
	"github.com/aidesk-core/server/internal/agent/model"
	"github.com/aidesk-core/server/internal/agent/repo"
	"github.com/aidesk-core/server/internal/agent/session"
	"github.com/aidesk-core/server/internal/core"
	"github.com/aidesk-core/server/internal/resilience"
	"github.com/aidesk-core/server/internal/retrieval"
	"github.com/aidesk-core/server/internal/store"
	"github.com/aidesk-core/server/internal/transport"
	logx "github.com/aidesk-core/server/pkg/logger"
	pkgredis "github.com/aidesk-core/server/pkg/redis"
)

// AppConfig defines all configurable parameters for the service, sourced from
// environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment string `envconfig:"APP_ENV" default:"development"`
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`

	// Infrastructure
	Redis      pkgredis.Config
	SQLitePath string `envconfig:"SQLITE_PATH" default:"aidesk.db"`

	// LLM provider
	APIKey string `envconfig:"GEMINI_API_KEY" required:"true"`

	// Retrieval: "gemini" embeds via the provider, "hash" runs fully local.
	Embedder   string `envconfig:"RETRIEVAL_EMBEDDER" default:"gemini"`
	KBSeedPath string `envconfig:"KB_SEED_PATH"`

	// Agent configs
	Router       model.RouterModelConfig
	Draft        model.DraftModelConfig
	Review       model.ReviewModelConfig
	Prompt       model.PromptConfig
	Generation   model.GenerationConfig
	Retrieval    model.RetrievalConfig
	Escalation   model.EscalationConfig
	Conversation model.ConversationConfig
	Resilience   resilience.Config
}

func main() {
	ctx := context.Background()

	if err := godotenv.Load(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not load .env file: %v\n", err)
	}

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to process environment config: %v\n", err)
		os.Exit(1)
	}

	logx.Init(logx.LoggerOpts{Environment: core.ParseEnvironment(cfg.Environment)})

	windowTTL, err := time.ParseDuration(cfg.Conversation.WindowTTL)
	if err != nil {
		logx.Fatal().Err(err).Str("value", cfg.Conversation.WindowTTL).Msg("invalid CONVERSATION_WINDOW_TTL")
	}
	genTimeout, err := time.ParseDuration(cfg.Generation.Timeout)
	if err != nil {
		logx.Fatal().Err(err).Str("value", cfg.Generation.Timeout).Msg("invalid GENERATION_TIMEOUT")
	}
	retrievalTimeout, err := time.ParseDuration(cfg.Retrieval.Timeout)
	if err != nil {
		logx.Fatal().Err(err).Str("value", cfg.Retrieval.Timeout).Msg("invalid RETRIEVAL_TIMEOUT")
	}

	rdb, err := cfg.Redis.New()
	if err != nil {
		logx.Fatal().Err(err).Msg("failed to initialise redis client")
	}
	defer rdb.Close()

	st, err := store.NewSQLiteStore(cfg.SQLitePath)
	if err != nil {
		logx.Fatal().Err(err).Str("path", cfg.SQLitePath).Msg("failed to open store")
	}
	defer st.Close()

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		logx.Fatal().Err(err).Msg("failed to create genai client")
	}

	providers, err := nodes.NewChatModels(ctx, nodes.ChatModelConfig{
		Client:       client,
		RouterConfig: &cfg.Router,
		DraftConfig:  &cfg.Draft,
		ReviewConfig: &cfg.Review,
	})
	if err != nil {
		logx.Fatal().Err(err).Msg("failed to create chat models")
	}

	registry := resilience.NewRegistry(cfg.Resilience, nil)

	var embedder retrieval.EmbeddingProvider
	var vectorStore *retrieval.FlatStore
	if cfg.Embedder == "hash" {
		embedder = retrieval.NewHashEmbedder()
		vectorStore = retrieval.NewFlatStore(retrieval.HashEmbedderDims)
	} else {
		embedder = retrieval.NewGeminiEmbedder(client, cfg.Retrieval.EmbeddingModel)
		vectorStore = retrieval.NewFlatStore(0)
	}
	if cfg.KBSeedPath != "" {
		if err := seedKnowledgeBase(ctx, cfg.KBSeedPath, embedder, vectorStore); err != nil {
			logx.Fatal().Err(err).Str("path", cfg.KBSeedPath).Msg("failed to seed knowledge base")
		}
	}

	coordinator := retrieval.NewCoordinator(embedder, vectorStore, registry, cfg.Retrieval.TopK, retrievalTimeout)
	messages := conversations.NewMessagesManager(
		repo.NewRedisConversationRepository(rdb, windowTTL, 0),
		cfg.Conversation,
	)

	runner, err := graph.BuildResponseGraph(ctx, graph.Config{
		Messages:        messages,
		Providers:       providers,
		Resilience:      registry,
		Retriever:       coordinator,
		PromptConfig:    cfg.Prompt,
		GenTimeout:      genTimeout,
		GenDependency:   cfg.Generation.DependencyKey,
		MaxContextChars: cfg.Retrieval.MaxContextChars,
		ToolMaxCalls:    cfg.Conversation.Tools.MaxCalls,
	})
	if err != nil {
		logx.Fatal().Err(err).Msg("failed to build response graph")
	}

	sessions := session.NewManager(st, cfg.Conversation)
	evaluator := escalate.NewEvaluator(cfg.Escalation)
	engine := agent.NewEngine(sessions, st, messages, runner, evaluator, escalate.LogNotifier{})

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	transport.NewHandler(engine).Register(e)

	go func() {
		logx.Info().Str("addr", cfg.HTTPAddr).Msg("server listening")
		if err := e.Start(cfg.HTTPAddr); err != nil {
			logx.Info().Err(err).Msg("server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logx.Error().Err(err).Msg("graceful shutdown failed")
	}
}

// seedDocument is one knowledge-base chunk in the seed file.
type seedDocument struct {
	KBID     string `json:"kb_id"`
	ID       string `json:"id"`
	Content  string `json:"content"`
	Title    string `json:"title,omitempty"`
	Filename string `json:"filename,omitempty"`
	Locator  string `json:"locator,omitempty"`
}

// seedKnowledgeBase loads pre-chunked documents from a JSON file into the
// in-memory index. Full ingestion pipelines live outside this service.
func seedKnowledgeBase(ctx context.Context, path string, embedder retrieval.EmbeddingProvider, vs *retrieval.FlatStore) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}

	var docs []seedDocument
	if err := json.Unmarshal(raw, &docs); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}

	for _, doc := range docs {
		vec, err := embedder.Embed(ctx, doc.Content)
		if err != nil {
			return fmt.Errorf("embed seed chunk %s: %w", doc.ID, err)
		}
		chunk := model.RetrievedChunk{
			ID:       doc.ID,
			Content:  doc.Content,
			Title:    doc.Title,
			Filename: doc.Filename,
			Locator:  doc.Locator,
		}
		if err := vs.Upsert(ctx, doc.KBID, chunk, vec); err != nil {
			return fmt.Errorf("index seed chunk %s: %w", doc.ID, err)
		}
	}

	logx.Info().Int("chunks", len(docs)).Str("path", path).Msg("knowledge base seeded")
	return nil
}
