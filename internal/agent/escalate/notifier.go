package escalate

import (
	"context"

	"github.com/aidesk-core/server/internal/agent/model"
	logx "github.com/aidesk-core/server/pkg/logger"
)

// Notifier tells the human side about a new handoff. Implementations must be
// safe to call from a goroutine after the turn response has been sent.
type Notifier interface {
	Notify(ctx context.Context, conv *model.Conversation, reason model.EscalationReason)
}

// LogNotifier records handoffs in the service log. A real deployment would
// push to the agent dashboard or a messaging channel instead.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, conv *model.Conversation, reason model.EscalationReason) {
	logx.Info().
		Str("conversation_id", conv.ID).
		Str("org_id", conv.OrgID).
		Str("ticket_number", conv.TicketNumber).
		Str("reason", string(reason)).
		Str("contact_email", conv.ContactEmail).
		Msg("handoff ready for human pickup")
}
