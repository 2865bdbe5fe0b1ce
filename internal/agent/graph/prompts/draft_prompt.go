package prompts

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/aidesk-core/server/internal/agent/graph/tools"
	"github.com/aidesk-core/server/internal/agent/model"
)

//go:embed template/draft_prompt.txt
var draftSystemPrompt string

// RenderDraftSystem renders the drafting system prompt, with or without
// assembled knowledge base context, and triggers prompt callbacks.
func RenderDraftSystem(ctx context.Context, config model.PromptConfig, fc *model.FormattedContext) (string, error) {
	contextText := ""
	if fc != nil {
		contextText = fc.Text
	}

	// Render via Eino prompt component (Go template) to both format and emit callbacks
	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(delimiterReplacer.Replace(draftSystemPrompt)),
	)
	vars := map[string]any{
		"AssistantName":  config.AssistantName,
		"BusinessType":   config.BusinessType,
		"BusinessName":   config.BusinessName,
		"HasContext":     contextText != "",
		"Context":        contextText,
		"CalculatorTool": tools.ToolCalculator,
	}
	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("draft prompt render: %w", err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("draft prompt render: empty result")
	}
	return msgs[0].Content, nil
}
