package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aidesk-core/server/internal/agent/escalate"
	"github.com/aidesk-core/server/internal/agent/graph/conversations"
	"github.com/aidesk-core/server/internal/agent/model"
	"github.com/aidesk-core/server/internal/agent/session"
	"github.com/aidesk-core/server/internal/store"
)

type stubRunner struct {
	fn func(ctx context.Context, turn *model.Turn) (*model.Turn, error)
}

func (s *stubRunner) Invoke(ctx context.Context, turn *model.Turn) (*model.Turn, error) {
	return s.fn(ctx, turn)
}

type memoryWindow struct {
	messages map[string][]*schema.Message
}

func newMemoryWindow() *memoryWindow {
	return &memoryWindow{messages: make(map[string][]*schema.Message)}
}

func (m *memoryWindow) AddMessage(ctx context.Context, conversationID string, message *schema.Message) error {
	m.messages[conversationID] = append(m.messages[conversationID], message)
	return nil
}

func (m *memoryWindow) LoadHistory(ctx context.Context, conversationID string) (*model.ConversationHistory, error) {
	return &model.ConversationHistory{ConversationID: conversationID, Messages: m.messages[conversationID]}, nil
}

func (m *memoryWindow) ClearHistory(ctx context.Context, conversationID string) error {
	delete(m.messages, conversationID)
	return nil
}

func (m *memoryWindow) GetMessageCount(ctx context.Context, conversationID string) (int, error) {
	return len(m.messages[conversationID]), nil
}

type captureNotifier struct {
	ch chan model.EscalationReason
}

func newCaptureNotifier() *captureNotifier {
	return &captureNotifier{ch: make(chan model.EscalationReason, 4)}
}

func (c *captureNotifier) Notify(ctx context.Context, conv *model.Conversation, reason model.EscalationReason) {
	c.ch <- reason
}

func (c *captureNotifier) expect(t *testing.T, reason model.EscalationReason) {
	t.Helper()
	select {
	case got := <-c.ch:
		assert.Equal(t, reason, got)
	case <-time.After(time.Second):
		t.Fatal("expected a handoff notification")
	}
}

func (c *captureNotifier) expectNone(t *testing.T) {
	t.Helper()
	select {
	case got := <-c.ch:
		t.Fatalf("unexpected notification: %s", got)
	case <-time.After(50 * time.Millisecond):
	}
}

type engineFixture struct {
	engine   *Engine
	store    store.Store
	sessions *session.Manager
	notifier *captureNotifier
}

func newEngineFixture(t *testing.T, runner *stubRunner) *engineFixture {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	var convCfg model.ConversationConfig
	convCfg.Ticket.Prefix = "TCK"
	convCfg.Ticket.Length = 6
	convCfg.Window.MaxMessages = 10

	sessions := session.NewManager(st, convCfg)
	messages := conversations.NewMessagesManager(newMemoryWindow(), convCfg)
	evaluator := escalate.NewEvaluator(model.EscalationConfig{
		ConfidenceThreshold: 0.5,
		ZeroChunkThreshold:  0.65,
		RepeatLimit:         3,
		DuplicateDistance:   0.25,
	})
	notifier := newCaptureNotifier()

	return &engineFixture{
		engine:   NewEngine(sessions, st, messages, runner, evaluator, notifier),
		store:    st,
		sessions: sessions,
		notifier: notifier,
	}
}

func answeringRunner(text string, confidence float64) *stubRunner {
	return &stubRunner{fn: func(ctx context.Context, turn *model.Turn) (*model.Turn, error) {
		turn.Classification = model.Classification{Kind: model.RouteKBQuery, Confidence: 0.9}
		turn.Chunks = []model.RetrievedChunk{
			{ID: "doc-1", Content: "refund policy details", Similarity: 0.87, Title: "Refund Policy"},
		}
		turn.Candidate = &model.AnswerCandidate{
			Text:       text,
			Confidence: confidence,
			Verdict:    model.VerdictPass,
			Citations:  []string{"doc-1"},
		}
		return turn, nil
	}}
}

func query(message string) model.QueryInput {
	return model.QueryInput{OrgID: "org-1", KBID: "kb-1", UserID: "u-1", Message: message}
}

func TestHandleQueryHappyPath(t *testing.T) {
	f := newEngineFixture(t, answeringRunner("Refunds take 5 business days.", 0.9))

	resp, err := f.engine.HandleQuery(context.Background(), query("how do refunds work?"))
	require.NoError(t, err)

	assert.Equal(t, "Refunds take 5 business days.", resp.AIResponse)
	assert.False(t, resp.HandoffTriggered)
	assert.InDelta(t, 0.9, resp.Confidence, 1e-9)
	assert.Regexp(t, `^TCK-`, resp.TicketNumber)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "Refund Policy", resp.Sources[0].Title)

	conv, err := f.store.GetConversation(context.Background(), resp.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusOngoing, conv.Status)

	msgs, err := f.store.ListMessages(context.Background(), resp.ConversationID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.SenderUser, msgs[0].Sender)
	assert.Equal(t, model.SenderAI, msgs[1].Sender)

	f.notifier.expectNone(t)
}

func TestHandleQuerySourceExcerptKeepsRunesWhole(t *testing.T) {
	runner := &stubRunner{fn: func(ctx context.Context, turn *model.Turn) (*model.Turn, error) {
		turn.Classification = model.Classification{Kind: model.RouteKBQuery, Confidence: 0.9}
		turn.Chunks = []model.RetrievedChunk{
			{
				ID:         "doc-1",
				Content:    strings.Repeat("über", 100),
				Similarity: 0.91,
				Title:      "Umlaut Guide",
				Locator:    "https://kb.example.com/docs/umlaut-guide",
			},
		}
		turn.Candidate = &model.AnswerCandidate{
			Text:       "See the guide.",
			Confidence: 0.9,
			Verdict:    model.VerdictPass,
			Citations:  []string{"doc-1"},
		}
		return turn, nil
	}}
	f := newEngineFixture(t, runner)

	resp, err := f.engine.HandleQuery(context.Background(), query("what about umlauts?"))
	require.NoError(t, err)
	require.Len(t, resp.Sources, 1)

	src := resp.Sources[0]
	assert.True(t, utf8.ValidString(src.Excerpt))
	assert.LessOrEqual(t, len(src.Excerpt), 200)
	assert.NotEmpty(t, src.Excerpt)
	assert.Equal(t, "https://kb.example.com/docs/umlaut-guide", src.URL)

	raw, err := json.Marshal(src)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"url":`)
}

func TestHandleQueryLowConfidenceCollectsEmail(t *testing.T) {
	f := newEngineFixture(t, answeringRunner("I think maybe...", 0.2))

	resp, err := f.engine.HandleQuery(context.Background(), query("how do refunds work?"))
	require.NoError(t, err)

	assert.True(t, resp.HandoffTriggered)
	assert.Contains(t, resp.AIResponse, model.EmailRequestText)

	conv, err := f.store.GetConversation(context.Background(), resp.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusEscalated, conv.Status)
	assert.Equal(t, string(model.ReasonLowConfidence), conv.EscalationReason)
	assert.True(t, conv.PendingContact)

	// the handoff is not announced until a contact address arrives
	f.notifier.expectNone(t)
}

func TestHandleQueryContactReplyCompletesHandoff(t *testing.T) {
	runner := &stubRunner{fn: func(ctx context.Context, turn *model.Turn) (*model.Turn, error) {
		turn.Classification = model.Classification{Kind: model.RouteContactReply, Confidence: 1}
		turn.ContactEmail = "user@example.com"
		turn.Candidate = &model.AnswerCandidate{
			Text:       fmt.Sprintf(model.EmailThanksText, "user@example.com", turn.Conversation.TicketNumber),
			Confidence: 1,
			Verdict:    model.VerdictPass,
		}
		turn.ForcedReason = model.ReasonUserRequested
		return turn, nil
	}}
	f := newEngineFixture(t, runner)

	// an escalated conversation waiting on contact details
	conv, err := f.sessions.GetOrCreate(context.Background(), query("hi"))
	require.NoError(t, err)
	require.NoError(t, f.sessions.Escalate(context.Background(), conv, model.ReasonLowConfidence, "system"))
	require.NoError(t, f.sessions.RequestContact(context.Background(), conv))

	input := query("user@example.com")
	input.ConversationID = conv.ID
	resp, err := f.engine.HandleQuery(context.Background(), input)
	require.NoError(t, err)

	assert.True(t, resp.HandoffTriggered)
	assert.Contains(t, resp.AIResponse, "user@example.com")
	assert.Contains(t, resp.AIResponse, conv.TicketNumber)

	stored, err := f.store.GetConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.False(t, stored.PendingContact)
	assert.Equal(t, "user@example.com", stored.ContactEmail)
	assert.Equal(t, model.StatusEscalated, stored.Status)

	f.notifier.expect(t, model.ReasonLowConfidence)
}

func TestHandleQueryGraphFailureDegrades(t *testing.T) {
	runner := &stubRunner{fn: func(ctx context.Context, turn *model.Turn) (*model.Turn, error) {
		return nil, fmt.Errorf("graph exploded")
	}}
	f := newEngineFixture(t, runner)

	resp, err := f.engine.HandleQuery(context.Background(), query("hello"))
	require.NoError(t, err, "a broken graph still answers the user")

	assert.Equal(t, model.DegradedAnswerText, resp.AIResponse)
	assert.True(t, resp.HandoffTriggered)
	assert.Zero(t, resp.Confidence)

	conv, err := f.store.GetConversation(context.Background(), resp.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusEscalated, conv.Status)
	assert.Equal(t, string(model.ReasonUnavailable), conv.EscalationReason)

	f.notifier.expect(t, model.ReasonUnavailable)
}

func TestHandleQueryValidation(t *testing.T) {
	f := newEngineFixture(t, answeringRunner("hi", 0.9))

	_, err := f.engine.HandleQuery(context.Background(), query(""))
	require.Error(t, err)

	input := query("hello")
	input.OrgID = ""
	_, err = f.engine.HandleQuery(context.Background(), input)
	require.Error(t, err)
}

func TestHandleQueryTerminalConversationStartsFresh(t *testing.T) {
	f := newEngineFixture(t, answeringRunner("hi there", 0.9))

	first, err := f.engine.HandleQuery(context.Background(), query("hello"))
	require.NoError(t, err)
	_, err = f.engine.Resolve(context.Background(), first.ConversationID)
	require.NoError(t, err)

	input := query("hello again")
	input.ConversationID = first.ConversationID
	second, err := f.engine.HandleQuery(context.Background(), input)
	require.NoError(t, err)

	assert.NotEqual(t, first.ConversationID, second.ConversationID)
	assert.NotEqual(t, first.TicketNumber, second.TicketNumber)
}

func TestResolveMapsStatusByCurrentState(t *testing.T) {
	f := newEngineFixture(t, answeringRunner("answer", 0.2))

	// low confidence escalates the conversation
	resp, err := f.engine.HandleQuery(context.Background(), query("hard question"))
	require.NoError(t, err)

	conv, err := f.engine.Resolve(context.Background(), resp.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusResolvedHuman, conv.Status)

	// resolving again is a no-op
	again, err := f.engine.Resolve(context.Background(), resp.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusResolvedHuman, again.Status)
}
