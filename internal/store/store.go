package store

import (
	"context"
	"time"

	"github.com/aidesk-core/server/internal/agent/model"
)

// Store is the durable system of record for conversations and their
// transcripts. The Redis window is a cache over this.
type Store interface {
	CreateConversation(ctx context.Context, conv *model.Conversation) error
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	// UpdateConversationStatus moves a conversation to a new status and stamps
	// resolved_at when the status is terminal.
	UpdateConversationStatus(ctx context.Context, id string, status model.Status, resolvedAt *time.Time) error
	// UpdateEscalation marks the conversation escalated with its reason.
	UpdateEscalation(ctx context.Context, id string, reason model.EscalationReason, escalatedBy string, at time.Time) error
	SetPendingContact(ctx context.Context, id string, pending bool, email string) error

	AppendMessage(ctx context.Context, msg *model.Message) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error)
	LastMessageTime(ctx context.Context, conversationID string) (*time.Time, error)

	TicketExists(ctx context.Context, orgID, ticketNumber string) (bool, error)

	Close() error
}
