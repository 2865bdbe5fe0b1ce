package model

import (
	"context"
	"time"

	"github.com/cloudwego/eino/schema"
)

// Status is the lifecycle state of a conversation.
type Status string

const (
	StatusOngoing       Status = "ongoing"
	StatusResolvedAI    Status = "resolved_ai"
	StatusResolvedHuman Status = "resolved_human"
	StatusEscalated     Status = "escalated"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusResolvedAI || s == StatusResolvedHuman
}

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser  Sender = "user"
	SenderAI    Sender = "ai"
	SenderAgent Sender = "agent"
)

// Conversation is the durable record of a support conversation.
type Conversation struct {
	ID               string     `json:"id"`
	OrgID            string     `json:"org_id"`
	KBID             string     `json:"kb_id"`
	UserID           string     `json:"user_id"`
	Status           Status     `json:"status"`
	TicketNumber     string     `json:"ticket_number"`
	StartedAt        time.Time  `json:"started_at"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
	EscalationReason string     `json:"escalation_reason,omitempty"`
	EscalatedAt      *time.Time `json:"escalated_at,omitempty"`
	EscalatedBy      string     `json:"escalated_by,omitempty"`
	ContactEmail     string     `json:"contact_email,omitempty"`
	PendingContact   bool       `json:"pending_contact"`
}

// Message is one durable turn entry in a conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Sender         Sender    `json:"sender"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
}

// ConversationRepository is the hot-path prompt window (Redis backed). The
// durable history lives in the store; this window only feeds prompts.
type ConversationRepository interface {
	// AddMessage appends a message to the window for the given conversation
	AddMessage(ctx context.Context, conversationID string, message *schema.Message) error

	// LoadHistory retrieves the window for a conversation
	LoadHistory(ctx context.Context, conversationID string) (*ConversationHistory, error)

	// ClearHistory removes the window for a conversation
	ClearHistory(ctx context.Context, conversationID string) error

	// GetMessageCount returns the number of messages in the window
	GetMessageCount(ctx context.Context, conversationID string) (int, error)
}

// ConversationHistory represents loaded window data with metadata.
type ConversationHistory struct {
	ConversationID string
	Messages       []*schema.Message
}
