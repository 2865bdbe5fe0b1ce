package prompts

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

//go:embed template/router_prompt.txt
var routerSystemPrompt string

// delimiterReplacer expands the protocol tokens shared by all templates.
var delimiterReplacer = strings.NewReplacer(
	"{TD}", "<||>",
	"{RD}", "##",
	"{CD}", "<|COMPLETE|>",
)

// RenderRouterSystem renders the routing system prompt via the Eino prompt
// component. This triggers Prompt callbacks and returns the final string.
func RenderRouterSystem(ctx context.Context) (string, error) {
	content := delimiterReplacer.Replace(routerSystemPrompt)

	// Wrap via Eino prompt component using a messages placeholder to emit callbacks
	tpl := prompt.FromMessages(
		schema.FString,
		schema.MessagesPlaceholder("system_messages", false),
	)
	msgs, err := tpl.Format(ctx, map[string]any{
		"system_messages": []*schema.Message{schema.SystemMessage(content)},
	})
	if err != nil {
		return "", fmt.Errorf("router prompt callbacks: %w", err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("router prompt callbacks: empty result")
	}
	return msgs[0].Content, nil
}
