package conversations

import (
	"context"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/aidesk-core/server/internal/agent/model"
)

// MessagesManager builds prompt context from the Redis window and records
// turn messages into it.
type MessagesManager struct {
	conversationRepo model.ConversationRepository
	windowMax        int
}

func NewMessagesManager(conversationRepo model.ConversationRepository, config model.ConversationConfig) *MessagesManager {
	return &MessagesManager{
		conversationRepo: conversationRepo,
		windowMax:        config.Window.MaxMessages,
	}
}

// RecordUserMessage appends the current user message to the window.
func (cm *MessagesManager) RecordUserMessage(ctx context.Context, conversationID string, content string) error {
	return cm.conversationRepo.AddMessage(ctx, conversationID, schema.UserMessage(content))
}

// SaveResponse appends the final assistant answer to the window.
func (cm *MessagesManager) SaveResponse(ctx context.Context, conversationID string, content string) error {
	return cm.conversationRepo.AddMessage(ctx, conversationID, schema.AssistantMessage(content, nil))
}

// PromptWindow returns the recent user/assistant messages for drafting,
// bounded to the configured window size.
func (cm *MessagesManager) PromptWindow(ctx context.Context, conversationID string) ([]*schema.Message, error) {
	history, err := cm.conversationRepo.LoadHistory(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	filtered := make([]*schema.Message, 0, len(history.Messages))
	for _, msg := range history.Messages {
		if msg == nil || msg.Content == "" {
			continue
		}
		if msg.Role != schema.User && msg.Role != schema.Assistant {
			continue
		}
		filtered = append(filtered, msg)
	}
	return trimTail(filtered, cm.windowMax), nil
}

// RouterContext builds the tagged routing context: recent turns plus the
// current message to classify.
func (cm *MessagesManager) RouterContext(ctx context.Context, conversationID string, current string) (string, error) {
	window, err := cm.PromptWindow(ctx, conversationID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("<conversation_context>\n")
	for _, msg := range window {
		switch msg.Role {
		case schema.User:
			b.WriteString("UserMessage(" + msg.Content + ")\n")
		case schema.Assistant:
			b.WriteString("AssistantMessage(" + msg.Content + ")\n")
		}
	}
	b.WriteString("</conversation_context>\n")
	b.WriteString("<current_message_to_classify>\n")
	b.WriteString("UserMessage(" + current + ")\n")
	b.WriteString("</current_message_to_classify>")
	return b.String(), nil
}

// ====================== Helper function ======================
func trimTail(messages []*schema.Message, max int) []*schema.Message {
	if max <= 0 || len(messages) <= max {
		result := make([]*schema.Message, len(messages))
		copy(result, messages)
		return result
	}
	source := messages[len(messages)-max:]
	result := make([]*schema.Message, len(source))
	copy(result, source)
	return result
}
