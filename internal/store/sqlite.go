package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/aidesk-core/server/internal/agent/model"
	errx "github.com/aidesk-core/server/internal/core/error"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS conversations (
	id                TEXT PRIMARY KEY,
	org_id            TEXT NOT NULL,
	kb_id             TEXT NOT NULL DEFAULT '',
	user_id           TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL,
	ticket_number     TEXT NOT NULL,
	started_at        TIMESTAMP NOT NULL,
	resolved_at       TIMESTAMP,
	escalation_reason TEXT NOT NULL DEFAULT '',
	escalated_at      TIMESTAMP,
	escalated_by      TEXT NOT NULL DEFAULT '',
	contact_email     TEXT NOT NULL DEFAULT '',
	pending_contact   INTEGER NOT NULL DEFAULT 0,
	UNIQUE (org_id, ticket_number)
);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id),
	sender          TEXT NOT NULL,
	content         TEXT NOT NULL,
	created_at      TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation
	ON messages (conversation_id, created_at);
`

// SQLiteStore implements Store on SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dsn and applies the schema.
// Use ":memory:" for tests.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite handles a single writer; serializing through one connection
	// avoids SQLITE_BUSY under concurrent turns
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *model.Conversation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations
			(id, org_id, kb_id, user_id, status, ticket_number, started_at,
			 resolved_at, escalation_reason, escalated_at, escalated_by,
			 contact_email, pending_contact)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.OrgID, conv.KBID, conv.UserID, string(conv.Status),
		conv.TicketNumber, conv.StartedAt.UTC(),
		nullableTime(conv.ResolvedAt), conv.EscalationReason,
		nullableTime(conv.EscalatedAt), conv.EscalatedBy,
		conv.ContactEmail, boolToInt(conv.PendingContact),
	)
	if err != nil {
		return errx.New(err, 500, errx.StoreErrorMessage)
	}
	return nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, org_id, kb_id, user_id, status, ticket_number, started_at,
		       resolved_at, escalation_reason, escalated_at, escalated_by,
		       contact_email, pending_contact
		FROM conversations WHERE id = ?`, id)

	var (
		conv        model.Conversation
		status      string
		resolvedAt  sql.NullTime
		escalatedAt sql.NullTime
		pending     int
	)
	err := row.Scan(
		&conv.ID, &conv.OrgID, &conv.KBID, &conv.UserID, &status,
		&conv.TicketNumber, &conv.StartedAt,
		&resolvedAt, &conv.EscalationReason, &escalatedAt, &conv.EscalatedBy,
		&conv.ContactEmail, &pending,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errx.New(err, 404, "conversation not found")
	}
	if err != nil {
		return nil, errx.New(err, 500, errx.StoreErrorMessage)
	}

	conv.Status = model.Status(status)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		conv.ResolvedAt = &t
	}
	if escalatedAt.Valid {
		t := escalatedAt.Time
		conv.EscalatedAt = &t
	}
	conv.PendingContact = pending != 0
	return &conv, nil
}

func (s *SQLiteStore) UpdateConversationStatus(ctx context.Context, id string, status model.Status, resolvedAt *time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET status = ?, resolved_at = ? WHERE id = ?`,
		string(status), nullableTime(resolvedAt), id)
	if err != nil {
		return errx.New(err, 500, errx.StoreErrorMessage)
	}
	return requireRow(res)
}

func (s *SQLiteStore) UpdateEscalation(ctx context.Context, id string, reason model.EscalationReason, escalatedBy string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET status = ?, escalation_reason = ?, escalated_by = ?, escalated_at = ?
		WHERE id = ?`,
		string(model.StatusEscalated), string(reason), escalatedBy, at.UTC(), id)
	if err != nil {
		return errx.New(err, 500, errx.StoreErrorMessage)
	}
	return requireRow(res)
}

func (s *SQLiteStore) SetPendingContact(ctx context.Context, id string, pending bool, email string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET pending_contact = ?, contact_email = ? WHERE id = ?`,
		boolToInt(pending), email, id)
	if err != nil {
		return errx.New(err, 500, errx.StoreErrorMessage)
	}
	return requireRow(res)
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *model.Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, sender, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, string(msg.Sender), msg.Content, msg.Timestamp.UTC())
	if err != nil {
		return errx.New(err, 500, errx.StoreErrorMessage)
	}
	return nil
}

// ListMessages returns the most recent messages in chronological order.
// limit <= 0 returns the full transcript.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	query := `
		SELECT id, conversation_id, sender, content, created_at
		FROM messages WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC`
	args := []any{conversationID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errx.New(err, 500, errx.StoreErrorMessage)
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		var (
			m      model.Message
			sender string
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &sender, &m.Content, &m.Timestamp); err != nil {
			return nil, errx.New(err, 500, errx.StoreErrorMessage)
		}
		m.Sender = model.Sender(sender)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errx.New(err, 500, errx.StoreErrorMessage)
	}

	// reverse into chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *SQLiteStore) LastMessageTime(ctx context.Context, conversationID string) (*time.Time, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT created_at FROM messages WHERE conversation_id = ? ORDER BY created_at DESC LIMIT 1`,
		conversationID)

	var t time.Time
	err := row.Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errx.New(err, 500, errx.StoreErrorMessage)
	}
	return &t, nil
}

func (s *SQLiteStore) TicketExists(ctx context.Context, orgID, ticketNumber string) (bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM conversations WHERE org_id = ? AND ticket_number = ?`,
		orgID, ticketNumber)

	var n int
	if err := row.Scan(&n); err != nil {
		return false, errx.New(err, 500, errx.StoreErrorMessage)
	}
	return n > 0, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errx.New(err, 500, errx.StoreErrorMessage)
	}
	if n == 0 {
		return errx.New(sql.ErrNoRows, 404, "conversation not found")
	}
	return nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ Store = (*SQLiteStore)(nil)
