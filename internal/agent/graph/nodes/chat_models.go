package nodes

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/aidesk-core/server/internal/agent/model"
	errx "github.com/aidesk-core/server/internal/core/error"
	logx "github.com/aidesk-core/server/pkg/logger"
)

// ChatModelConfig holds the configuration for chat model creation
type ChatModelConfig struct {
	Client       *genai.Client
	RouterConfig *model.RouterModelConfig
	DraftConfig  *model.DraftModelConfig
	ReviewConfig *model.ReviewModelConfig
}

// ChatModels holds the three generation roles: routing, drafting, review.
type ChatModels struct {
	Router          model.GenerationProvider
	Draft           model.GenerationProvider
	Review          model.GenerationProvider
	RouterModelName string
	DraftModelName  string
	ReviewModelName string

	draftModel *gemini.ChatModel
}

// NewChatModels creates the three chat models with the given configuration
func NewChatModels(ctx context.Context, config ChatModelConfig) (*ChatModels, error) {
	router, err := newGeminiModel(ctx, config.Client, config.RouterConfig.Model, config.RouterConfig.Temperature, config.RouterConfig.MaxTokens)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating router model")
		return nil, fmt.Errorf("error creating router model: %w", err)
	}

	draft, err := newGeminiModel(ctx, config.Client, config.DraftConfig.Model, config.DraftConfig.Temperature, config.DraftConfig.MaxTokens)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating draft model")
		return nil, fmt.Errorf("error creating draft model: %w", err)
	}

	review, err := newGeminiModel(ctx, config.Client, config.ReviewConfig.Model, config.ReviewConfig.Temperature, config.ReviewConfig.MaxTokens)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating review model")
		return nil, fmt.Errorf("error creating review model: %w", err)
	}

	return &ChatModels{
		Router:          &geminiProvider{cm: router},
		Draft:           &geminiProvider{cm: draft},
		Review:          &geminiProvider{cm: review},
		RouterModelName: config.RouterConfig.Model,
		DraftModelName:  config.DraftConfig.Model,
		ReviewModelName: config.ReviewConfig.Model,
		draftModel:      draft,
	}, nil
}

func newGeminiModel(ctx context.Context, client *genai.Client, modelName string, temperature float32, maxTokens int) (*gemini.ChatModel, error) {
	return gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       modelName,
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  genai.Ptr(int32(0)),
		},
	})
}

// BindToolsToDraftModel binds tools to the drafting chat model
func (cm *ChatModels) BindToolsToDraftModel(ctx context.Context, tools []*schema.ToolInfo) error {
	if cm.draftModel == nil {
		// stub providers in tests have no concrete model to bind
		return nil
	}
	if err := cm.draftModel.BindTools(tools); err != nil {
		logx.Error().Err(err).Msg("Failed to bind tools")
		return fmt.Errorf("failed to bind tools: %w", err)
	}

	logx.Debug().Msg("Successfully bound tools to draft model")
	return nil
}

// geminiProvider adapts a gemini ChatModel to the GenerationProvider port and
// classifies provider errors into errx kinds.
type geminiProvider struct {
	cm *gemini.ChatModel
}

func (p *geminiProvider) Generate(ctx context.Context, messages []*schema.Message) (*schema.Message, error) {
	out, err := p.cm.Generate(ctx, messages)
	if err != nil {
		return nil, classifyProviderError(err)
	}
	return out, nil
}

// classifyProviderError maps provider errors onto errx kinds: rate limits and
// server errors retry, everything else (auth, bad request, safety) does not.
func classifyProviderError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 || apiErr.Code >= 500 {
			return errx.Transient(err, "generation provider overloaded")
		}
		return errx.Permanent(err, "generation request rejected")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errx.Transient(err, "generation provider timed out")
	}
	// network-level failures are worth retrying
	return errx.Transient(err, "generation provider unreachable")
}
