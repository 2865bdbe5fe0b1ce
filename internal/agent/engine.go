package agent

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/aidesk-core/server/internal/agent/escalate"
	"github.com/aidesk-core/server/internal/agent/graph"
	"github.com/aidesk-core/server/internal/agent/graph/conversations"
	"github.com/aidesk-core/server/internal/agent/model"
	"github.com/aidesk-core/server/internal/agent/session"
	errx "github.com/aidesk-core/server/internal/core/error"
	"github.com/aidesk-core/server/internal/store"
	logx "github.com/aidesk-core/server/pkg/logger"
)

const (
	// escalatedBySystem marks escalations the engine triggered itself.
	escalatedBySystem = "system"

	// transcriptWindow bounds how much history the escalation evaluator sees.
	transcriptWindow = 50

	sourceExcerptLen = 200
)

// Engine drives one conversation turn end to end: conversation lookup,
// the generation graph, escalation policy, and persistence.
type Engine struct {
	sessions  *session.Manager
	store     store.Store
	messages  *conversations.MessagesManager
	graph     graph.Runner
	evaluator *escalate.Evaluator
	notifier  escalate.Notifier
}

func NewEngine(
	sessions *session.Manager,
	st store.Store,
	messages *conversations.MessagesManager,
	runner graph.Runner,
	evaluator *escalate.Evaluator,
	notifier escalate.Notifier,
) *Engine {
	if notifier == nil {
		notifier = escalate.LogNotifier{}
	}
	return &Engine{
		sessions:  sessions,
		store:     st,
		messages:  messages,
		graph:     runner,
		evaluator: evaluator,
		notifier:  notifier,
	}
}

// HandleQuery processes one user turn. Once a turn is accepted it runs to
// completion even if the caller disconnects, so state never half-commits.
func (e *Engine) HandleQuery(ctx context.Context, input model.QueryInput) (*model.QueryResponse, error) {
	start := time.Now()
	ctx = context.WithoutCancel(ctx)

	if input.Message == "" {
		return nil, errx.Permanent(nil, "message must not be empty")
	}
	if input.OrgID == "" {
		return nil, errx.Permanent(nil, "org_id must not be empty")
	}

	conv, err := e.sessions.GetOrCreate(ctx, input)
	if err != nil {
		return nil, err
	}

	unlock := e.sessions.Lock(conv.ID)
	defer unlock()

	input.ConversationID = conv.ID
	if _, err := e.sessions.AppendMessage(ctx, conv.ID, model.SenderUser, input.Message); err != nil {
		return nil, err
	}

	turn := &model.Turn{Input: input, Conversation: conv}
	out, err := e.graph.Invoke(ctx, turn)
	if err != nil {
		// the graph degrades internally; reaching here means something
		// unexpected broke, and the turn still has to answer
		logx.Error().Err(err).Str("conversation_id", conv.ID).Msg("graph invocation failed")
		out = turn
		out.Candidate = &model.AnswerCandidate{
			Text:    model.DegradedAnswerText,
			Verdict: model.VerdictPass,
		}
		out.ForcedReason = model.ReasonUnavailable
	}
	if out.Candidate == nil {
		out.Candidate = &model.AnswerCandidate{
			Text:    model.DegradedAnswerText,
			Verdict: model.VerdictPass,
		}
		out.ForcedReason = model.ReasonUnavailable
	}

	answer := out.Candidate.Text
	handoff := false

	if out.ContactEmail != "" {
		// the turn completed a pending contact request
		if err := e.sessions.CompleteContact(ctx, conv, out.ContactEmail); err != nil {
			return nil, err
		}
		handoff = true
		e.notifyAsync(ctx, conv, model.EscalationReason(conv.EscalationReason))
	} else {
		history, herr := e.store.ListMessages(ctx, conv.ID, transcriptWindow)
		if herr != nil {
			logx.Warn().Err(herr).Str("conversation_id", conv.ID).Msg("transcript unavailable for escalation policy")
		}

		decision := e.evaluator.Evaluate(out, conv, history)
		if decision.Trigger {
			if err := e.sessions.Escalate(ctx, conv, decision.Reason, escalatedBySystem); err != nil {
				return nil, err
			}
			handoff = true

			if decision.CollectEmail {
				if err := e.sessions.RequestContact(ctx, conv); err != nil {
					return nil, err
				}
				answer = answer + "\n\n" + model.EmailRequestText
			} else {
				e.notifyAsync(ctx, conv, decision.Reason)
			}
		}
	}

	if err := e.messages.SaveResponse(ctx, conv.ID, answer); err != nil {
		logx.Warn().Err(err).Str("conversation_id", conv.ID).Msg("failed to record answer in window")
	}
	if _, err := e.sessions.AppendMessage(ctx, conv.ID, model.SenderAI, answer); err != nil {
		return nil, err
	}

	resp := &model.QueryResponse{
		ConversationID:   conv.ID,
		TicketNumber:     conv.TicketNumber,
		AIResponse:       answer,
		Sources:          buildSources(out),
		Confidence:       out.Candidate.Confidence,
		HandoffTriggered: handoff || conv.Status == model.StatusEscalated,
		ResponseTime:     time.Since(start).Seconds(),
	}

	logx.Info().
		Str("conversation_id", conv.ID).
		Str("route", string(out.Classification.Kind)).
		Float64("confidence", resp.Confidence).
		Bool("handoff", resp.HandoffTriggered).
		Float64("response_time_s", resp.ResponseTime).
		Msg("turn answered")
	return resp, nil
}

// Resolve closes a conversation via the status machine.
func (e *Engine) Resolve(ctx context.Context, conversationID string) (*model.Conversation, error) {
	unlock := e.sessions.Lock(conversationID)
	defer unlock()
	return e.sessions.Resolve(context.WithoutCancel(ctx), conversationID)
}

// GetConversation returns the durable conversation record.
func (e *Engine) GetConversation(ctx context.Context, conversationID string) (*model.Conversation, error) {
	return e.store.GetConversation(ctx, conversationID)
}

func (e *Engine) notifyAsync(ctx context.Context, conv *model.Conversation, reason model.EscalationReason) {
	snapshot := *conv
	go e.notifier.Notify(context.WithoutCancel(ctx), &snapshot, reason)
}

// buildSources maps retrieved chunks to user-visible citations. When the
// drafter cited specific chunks only those are surfaced.
func buildSources(turn *model.Turn) []model.Source {
	if len(turn.Chunks) == 0 {
		return nil
	}

	cited := make(map[string]bool, len(turn.Candidate.Citations))
	for _, id := range turn.Candidate.Citations {
		cited[id] = true
	}

	var out []model.Source
	for _, chunk := range turn.Chunks {
		if len(cited) > 0 && !cited[chunk.ID] {
			continue
		}
		title := chunk.Title
		if title == "" {
			title = chunk.Filename
		}
		excerpt := truncateExcerpt(chunk.Content, sourceExcerptLen)
		out = append(out, model.Source{
			Title:      title,
			Excerpt:    excerpt,
			Similarity: chunk.Similarity,
			URL:        chunk.Locator,
		})
	}
	return out
}

// truncateExcerpt cuts an excerpt to at most n bytes without splitting a
// multibyte rune.
func truncateExcerpt(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
