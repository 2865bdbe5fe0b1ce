package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aidesk-core/server/internal/agent/model"
	errx "github.com/aidesk-core/server/internal/core/error"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func testConversation(id, orgID, ticket string) *model.Conversation {
	return &model.Conversation{
		ID:           id,
		OrgID:        orgID,
		KBID:         "kb-1",
		UserID:       "u-1",
		Status:       model.StatusOngoing,
		TicketNumber: ticket,
		StartedAt:    time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestConversationRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateConversation(ctx, testConversation("c-1", "org-1", "TCK-AAAAAA")))

	got, err := st.GetConversation(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, "org-1", got.OrgID)
	assert.Equal(t, model.StatusOngoing, got.Status)
	assert.Equal(t, "TCK-AAAAAA", got.TicketNumber)
	assert.Nil(t, got.ResolvedAt)
	assert.Nil(t, got.EscalatedAt)
	assert.False(t, got.PendingContact)
}

func TestGetConversationNotFound(t *testing.T) {
	st := newTestStore(t)

	_, err := st.GetConversation(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, 404, errx.StatusOf(err))
}

func TestTicketUniquePerOrg(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateConversation(ctx, testConversation("c-1", "org-1", "TCK-AAAAAA")))

	// same ticket in the same org collides
	err := st.CreateConversation(ctx, testConversation("c-2", "org-1", "TCK-AAAAAA"))
	require.Error(t, err)

	// same ticket in a different org is fine
	require.NoError(t, st.CreateConversation(ctx, testConversation("c-3", "org-2", "TCK-AAAAAA")))

	exists, err := st.TicketExists(ctx, "org-1", "TCK-AAAAAA")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = st.TicketExists(ctx, "org-1", "TCK-BBBBBB")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStatusAndEscalationUpdates(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateConversation(ctx, testConversation("c-1", "org-1", "TCK-AAAAAA")))

	at := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	require.NoError(t, st.UpdateEscalation(ctx, "c-1", model.ReasonLowConfidence, "system", at))

	got, err := st.GetConversation(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusEscalated, got.Status)
	assert.Equal(t, string(model.ReasonLowConfidence), got.EscalationReason)
	assert.Equal(t, "system", got.EscalatedBy)
	require.NotNil(t, got.EscalatedAt)

	resolved := at.Add(time.Hour)
	require.NoError(t, st.UpdateConversationStatus(ctx, "c-1", model.StatusResolvedHuman, &resolved))

	got, err = st.GetConversation(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusResolvedHuman, got.Status)
	require.NotNil(t, got.ResolvedAt)
	assert.True(t, got.ResolvedAt.Equal(resolved))
}

func TestUpdateMissingConversation(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	err := st.UpdateConversationStatus(ctx, "missing", model.StatusResolvedAI, nil)
	require.Error(t, err)
	assert.Equal(t, 404, errx.StatusOf(err))

	err = st.SetPendingContact(ctx, "missing", true, "")
	require.Error(t, err)
	assert.Equal(t, 404, errx.StatusOf(err))
}

func TestPendingContact(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateConversation(ctx, testConversation("c-1", "org-1", "TCK-AAAAAA")))
	require.NoError(t, st.SetPendingContact(ctx, "c-1", true, ""))

	got, err := st.GetConversation(ctx, "c-1")
	require.NoError(t, err)
	assert.True(t, got.PendingContact)

	require.NoError(t, st.SetPendingContact(ctx, "c-1", false, "user@example.com"))
	got, err = st.GetConversation(ctx, "c-1")
	require.NoError(t, err)
	assert.False(t, got.PendingContact)
	assert.Equal(t, "user@example.com", got.ContactEmail)
}

func TestMessagesChronologicalWithLimit(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateConversation(ctx, testConversation("c-1", "org-1", "TCK-AAAAAA")))

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		sender := model.SenderUser
		if i%2 == 1 {
			sender = model.SenderAI
		}
		require.NoError(t, st.AppendMessage(ctx, &model.Message{
			ID:             string(rune('a' + i)),
			ConversationID: "c-1",
			Sender:         sender,
			Content:        string(rune('0' + i)),
			Timestamp:      base.Add(time.Duration(i) * time.Second),
		}))
	}

	all, err := st.ListMessages(ctx, "c-1", 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "0", all[0].Content)
	assert.Equal(t, "4", all[4].Content)

	last2, err := st.ListMessages(ctx, "c-1", 2)
	require.NoError(t, err)
	require.Len(t, last2, 2)
	assert.Equal(t, "3", last2[0].Content)
	assert.Equal(t, "4", last2[1].Content)

	lastAt, err := st.LastMessageTime(ctx, "c-1")
	require.NoError(t, err)
	require.NotNil(t, lastAt)
	assert.True(t, lastAt.Equal(base.Add(4*time.Second)))
}

func TestLastMessageTimeEmpty(t *testing.T) {
	st := newTestStore(t)

	lastAt, err := st.LastMessageTime(context.Background(), "c-none")
	require.NoError(t, err)
	assert.Nil(t, lastAt)
}
