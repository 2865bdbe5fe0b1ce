package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aidesk-core/server/internal/agent/model"
	errx "github.com/aidesk-core/server/internal/core/error"
	"github.com/aidesk-core/server/internal/store"
	logx "github.com/aidesk-core/server/pkg/logger"
)

// Manager owns the conversation lifecycle: creation with ticket assignment,
// the status machine, and per-conversation turn serialization.
type Manager struct {
	store        store.Store
	ticketPrefix string
	ticketLength int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	// lastStamp keeps message timestamps strictly increasing per conversation
	// even when the clock does not move between appends.
	lastStamp map[string]time.Time

	now func() time.Time
}

func NewManager(st store.Store, config model.ConversationConfig) *Manager {
	return &Manager{
		store:        st,
		ticketPrefix: config.Ticket.Prefix,
		ticketLength: config.Ticket.Length,
		locks:        make(map[string]*sync.Mutex),
		lastStamp:    make(map[string]time.Time),
		now:          time.Now,
	}
}

// Lock serializes turns for one conversation. The returned func releases it.
func (m *Manager) Lock(conversationID string) func() {
	m.mu.Lock()
	l, ok := m.locks[conversationID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[conversationID] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// GetOrCreate resolves the conversation a turn belongs to. A missing or empty
// ID starts a new conversation; a terminal conversation also starts a new one,
// since terminal states admit no further turns.
func (m *Manager) GetOrCreate(ctx context.Context, input model.QueryInput) (*model.Conversation, error) {
	if input.ConversationID != "" {
		conv, err := m.store.GetConversation(ctx, input.ConversationID)
		if err == nil {
			if !conv.Status.Terminal() {
				return conv, nil
			}
			logx.Debug().
				Str("conversation_id", conv.ID).
				Str("status", string(conv.Status)).
				Msg("conversation is terminal, starting a new one")
		} else if errx.StatusOf(err) != 404 {
			return nil, err
		}
	}
	return m.create(ctx, input)
}

func (m *Manager) create(ctx context.Context, input model.QueryInput) (*model.Conversation, error) {
	ticket, err := NewTicketNumber(ctx, m.store, input.OrgID, m.ticketPrefix, m.ticketLength)
	if err != nil {
		return nil, err
	}

	conv := &model.Conversation{
		ID:           uuid.NewString(),
		OrgID:        input.OrgID,
		KBID:         input.KBID,
		UserID:       input.UserID,
		Status:       model.StatusOngoing,
		TicketNumber: ticket,
		StartedAt:    m.now().UTC(),
	}
	if err := m.store.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}

	logx.Info().
		Str("conversation_id", conv.ID).
		Str("org_id", conv.OrgID).
		Str("ticket_number", conv.TicketNumber).
		Msg("conversation started")
	return conv, nil
}

// AppendMessage records a transcript entry with a strictly increasing
// timestamp within the conversation.
func (m *Manager) AppendMessage(ctx context.Context, conversationID string, sender model.Sender, content string) (*model.Message, error) {
	msg := &model.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Sender:         sender,
		Content:        content,
		Timestamp:      m.nextStamp(conversationID),
	}
	if err := m.store.AppendMessage(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (m *Manager) nextStamp(conversationID string) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.now().UTC()
	if last, ok := m.lastStamp[conversationID]; ok && !t.After(last) {
		t = last.Add(time.Millisecond)
	}
	m.lastStamp[conversationID] = t
	return t
}

// forget drops per-conversation bookkeeping. Terminal conversations take no
// further turns, so their lock and timestamp entries would otherwise
// accumulate forever.
func (m *Manager) forget(conversationID string) {
	m.mu.Lock()
	delete(m.locks, conversationID)
	delete(m.lastStamp, conversationID)
	m.mu.Unlock()
}

// Escalate moves an ongoing conversation to escalated. Escalating an already
// escalated conversation is a no-op; terminal conversations cannot move.
func (m *Manager) Escalate(ctx context.Context, conv *model.Conversation, reason model.EscalationReason, escalatedBy string) error {
	switch {
	case conv.Status == model.StatusEscalated:
		return nil
	case conv.Status.Terminal():
		return errx.New(nil, 409, "conversation is already closed")
	}

	at := m.now().UTC()
	if err := m.store.UpdateEscalation(ctx, conv.ID, reason, escalatedBy, at); err != nil {
		return err
	}
	conv.Status = model.StatusEscalated
	conv.EscalationReason = string(reason)
	conv.EscalatedBy = escalatedBy
	conv.EscalatedAt = &at

	logx.Info().
		Str("conversation_id", conv.ID).
		Str("ticket_number", conv.TicketNumber).
		Str("reason", string(reason)).
		Msg("conversation escalated")
	return nil
}

// RequestContact flags the conversation as waiting for a contact address.
func (m *Manager) RequestContact(ctx context.Context, conv *model.Conversation) error {
	if err := m.store.SetPendingContact(ctx, conv.ID, true, conv.ContactEmail); err != nil {
		return err
	}
	conv.PendingContact = true
	return nil
}

// CompleteContact stores the captured address and clears the pending flag.
func (m *Manager) CompleteContact(ctx context.Context, conv *model.Conversation, email string) error {
	if err := m.store.SetPendingContact(ctx, conv.ID, false, email); err != nil {
		return err
	}
	conv.PendingContact = false
	conv.ContactEmail = email
	return nil
}

// Resolve closes a conversation: ongoing resolves as AI-handled, escalated as
// human-handled. Resolving an already terminal conversation is a no-op.
func (m *Manager) Resolve(ctx context.Context, conversationID string) (*model.Conversation, error) {
	conv, err := m.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Status.Terminal() {
		return conv, nil
	}

	target := model.StatusResolvedAI
	if conv.Status == model.StatusEscalated {
		target = model.StatusResolvedHuman
	}

	at := m.now().UTC()
	if err := m.store.UpdateConversationStatus(ctx, conv.ID, target, &at); err != nil {
		return nil, err
	}
	conv.Status = target
	conv.ResolvedAt = &at
	m.forget(conv.ID)

	logx.Info().
		Str("conversation_id", conv.ID).
		Str("ticket_number", conv.TicketNumber).
		Str("status", string(target)).
		Msg("conversation resolved")
	return conv, nil
}
