package prompts

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/aidesk-core/server/internal/agent/model"
)

//go:embed template/review_prompt.txt
var reviewSystemPrompt string

// RenderReviewSystem renders the review system prompt and triggers prompt
// callbacks.
func RenderReviewSystem(ctx context.Context, config model.PromptConfig, fc *model.FormattedContext) (string, error) {
	contextText := ""
	if fc != nil {
		contextText = fc.Text
	}

	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(delimiterReplacer.Replace(reviewSystemPrompt)),
	)
	vars := map[string]any{
		"BusinessType": config.BusinessType,
		"BusinessName": config.BusinessName,
		"HasContext":   contextText != "",
		"Context":      contextText,
	}
	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("review prompt render: %w", err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("review prompt render: empty result")
	}
	return msgs[0].Content, nil
}
