package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aidesk-core/server/internal/agent"
	"github.com/aidesk-core/server/internal/agent/escalate"
	"github.com/aidesk-core/server/internal/agent/graph/conversations"
	"github.com/aidesk-core/server/internal/agent/model"
	"github.com/aidesk-core/server/internal/agent/session"
	"github.com/aidesk-core/server/internal/store"

	"github.com/cloudwego/eino/schema"
)

type fixedRunner struct{}

func (fixedRunner) Invoke(ctx context.Context, turn *model.Turn) (*model.Turn, error) {
	turn.Classification = model.Classification{Kind: model.RouteConversational, Confidence: 0.95}
	turn.Candidate = &model.AnswerCandidate{
		Text:       "Hello! How can I help?",
		Confidence: 0.95,
		Verdict:    model.VerdictPass,
	}
	return turn, nil
}

type nullWindow struct{}

func (nullWindow) AddMessage(ctx context.Context, conversationID string, message *schema.Message) error {
	return nil
}

func (nullWindow) LoadHistory(ctx context.Context, conversationID string) (*model.ConversationHistory, error) {
	return &model.ConversationHistory{ConversationID: conversationID}, nil
}

func (nullWindow) ClearHistory(ctx context.Context, conversationID string) error { return nil }

func (nullWindow) GetMessageCount(ctx context.Context, conversationID string) (int, error) {
	return 0, nil
}

func newTestServer(t *testing.T) *echo.Echo {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	var convCfg model.ConversationConfig
	convCfg.Ticket.Prefix = "TCK"
	convCfg.Ticket.Length = 6

	engine := agent.NewEngine(
		session.NewManager(st, convCfg),
		st,
		conversations.NewMessagesManager(nullWindow{}, convCfg),
		fixedRunner{},
		escalate.NewEvaluator(model.EscalationConfig{ConfidenceThreshold: 0.5, ZeroChunkThreshold: 0.65, RepeatLimit: 3, DuplicateDistance: 0.25}),
		escalate.LogNotifier{},
	)

	e := echo.New()
	NewHandler(engine).Register(e)
	return e
}

func doJSON(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	e := newTestServer(t)
	rec := doJSON(e, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestQueryEndpoint(t *testing.T) {
	e := newTestServer(t)

	rec := doJSON(e, http.MethodPost, "/v1/query",
		`{"org_id":"org-1","kb_id":"kb-1","user_id":"u-1","message":"hello"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp model.QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Hello! How can I help?", resp.AIResponse)
	assert.NotEmpty(t, resp.ConversationID)
	assert.Regexp(t, `^TCK-`, resp.TicketNumber)
	assert.False(t, resp.HandoffTriggered)
}

func TestQueryEndpointValidation(t *testing.T) {
	e := newTestServer(t)

	rec := doJSON(e, http.MethodPost, "/v1/query", `{"org_id":"org-1","message":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(e, http.MethodPost, "/v1/query", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResolveEndpoint(t *testing.T) {
	e := newTestServer(t)

	rec := doJSON(e, http.MethodPost, "/v1/query",
		`{"org_id":"org-1","message":"hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var qr model.QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &qr))

	rec = doJSON(e, http.MethodPost, "/v1/conversations/"+qr.ConversationID+"/resolve",
		`{"satisfaction_score":5}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var rr struct {
		Status            model.Status `json:"status"`
		SatisfactionScore *int         `json:"satisfaction_score"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rr))
	assert.Equal(t, model.StatusResolvedAI, rr.Status)
	require.NotNil(t, rr.SatisfactionScore)
	assert.Equal(t, 5, *rr.SatisfactionScore)

	// resolving again returns the same terminal state
	rec = doJSON(e, http.MethodPost, "/v1/conversations/"+qr.ConversationID+"/resolve", `{}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestResolveEndpointLogsSatisfactionScore(t *testing.T) {
	var buf bytes.Buffer
	orig := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = orig })

	e := newTestServer(t)

	rec := doJSON(e, http.MethodPost, "/v1/query", `{"org_id":"org-1","message":"hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var qr model.QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &qr))

	rec = doJSON(e, http.MethodPost, "/v1/conversations/"+qr.ConversationID+"/resolve",
		`{"satisfaction_score":4}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Contains(t, buf.String(), `"satisfaction_score":4`)
	assert.Contains(t, buf.String(), "conversation resolve requested")
}

func TestResolveEndpointBadScore(t *testing.T) {
	e := newTestServer(t)
	rec := doJSON(e, http.MethodPost, "/v1/conversations/any/resolve", `{"satisfaction_score":9}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResolveEndpointNotFound(t *testing.T) {
	e := newTestServer(t)
	rec := doJSON(e, http.MethodPost, "/v1/conversations/missing/resolve", `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetConversationEndpoint(t *testing.T) {
	e := newTestServer(t)

	rec := doJSON(e, http.MethodPost, "/v1/query", `{"org_id":"org-1","message":"hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var qr model.QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &qr))

	rec = doJSON(e, http.MethodGet, "/v1/conversations/"+qr.ConversationID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var conv model.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))
	assert.Equal(t, qr.ConversationID, conv.ID)
	assert.Equal(t, model.StatusOngoing, conv.Status)
}
