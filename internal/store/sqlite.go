// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides profile/conversation/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is a fixed-width UTC timestamp format. Fixed width keeps
// lexicographic order identical to time order, which the message queries
// rely on for ORDER BY created_at.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS profiles (
			id         TEXT PRIMARY KEY,
			username   TEXT NOT NULL,
			role       TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS blocked (
			owner_id   TEXT NOT NULL,
			blocked_id TEXT NOT NULL,
			created_at TEXT NOT NULL,

			PRIMARY KEY (owner_id, blocked_id)
		);

		CREATE INDEX IF NOT EXISTS idx_blocked_owner ON blocked(owner_id);

		CREATE TABLE IF NOT EXISTS conversations (
			id              TEXT PRIMARY KEY,
			participant_a   TEXT NOT NULL,
			participant_b   TEXT NOT NULL,
			is_group        INTEGER NOT NULL DEFAULT 0,
			last_message    TEXT NOT NULL DEFAULT '',
			last_message_at TEXT,
			created_at      TEXT NOT NULL,
			created_by      TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_participant_a
			ON conversations(participant_a, last_message_at);
		CREATE INDEX IF NOT EXISTS idx_conversations_participant_b
			ON conversations(participant_b, last_message_at);

		CREATE TABLE IF NOT EXISTS typing (
			conversation_id TEXT NOT NULL,
			principal_id    TEXT NOT NULL,
			is_typing       INTEGER NOT NULL,

			PRIMARY KEY (conversation_id, principal_id),
			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS messages (
			id               TEXT PRIMARY KEY,
			conversation_id  TEXT NOT NULL,
			sender_id        TEXT NOT NULL,
			text             TEXT NOT NULL,
			type             TEXT NOT NULL DEFAULT 'text',
			attachments_json TEXT,
			created_at       TEXT NOT NULL,

			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE,
			CHECK (type IN ('text', 'mixed'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at);

		CREATE TABLE IF NOT EXISTS message_reads (
			message_id   TEXT NOT NULL,
			principal_id TEXT NOT NULL,

			PRIMARY KEY (message_id, principal_id),
			FOREIGN KEY (message_id) REFERENCES messages(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_message_reads_message ON message_reads(message_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// EnsureProfile creates the profile if it doesn't exist yet.
// Existing profiles are left untouched (lazy creation on first access).
func (s *SQLiteStore) EnsureProfile(ctx context.Context, profile *Profile) error {
	createdAt := profile.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO profiles (id, username, role, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`

	_, err := s.db.ExecContext(ctx, query,
		profile.ID,
		profile.Username,
		profile.Role,
		createdAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting profile: %w", err)
	}
	return nil
}

// GetProfile retrieves a profile by principal id, including its block set.
// Returns ErrNotFound if the profile doesn't exist.
func (s *SQLiteStore) GetProfile(ctx context.Context, id string) (*Profile, error) {
	query := `SELECT id, username, role, created_at FROM profiles WHERE id = ?`

	var profile Profile
	var createdAtStr string

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&profile.ID,
		&profile.Username,
		&profile.Role,
		&createdAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying profile: %w", err)
	}

	profile.CreatedAt, err = time.Parse(timeLayout, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT blocked_id FROM blocked WHERE owner_id = ? ORDER BY blocked_id`, id)
	if err != nil {
		return nil, fmt.Errorf("querying block set: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var blockedID string
		if err := rows.Scan(&blockedID); err != nil {
			return nil, fmt.Errorf("scanning block set: %w", err)
		}
		profile.Blocked = append(profile.Blocked, blockedID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating block set: %w", err)
	}

	return &profile, nil
}

// AddBlocked adds blockedID to ownerID's block set. Idempotent.
func (s *SQLiteStore) AddBlocked(ctx context.Context, ownerID, blockedID string) error {
	query := `
		INSERT INTO blocked (owner_id, blocked_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(owner_id, blocked_id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query, ownerID, blockedID, time.Now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("inserting block: %w", err)
	}
	return nil
}

// RemoveBlocked removes blockedID from ownerID's block set. Idempotent.
func (s *SQLiteStore) RemoveBlocked(ctx context.Context, ownerID, blockedID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM blocked WHERE owner_id = ? AND blocked_id = ?`, ownerID, blockedID)
	if err != nil {
		return fmt.Errorf("deleting block: %w", err)
	}
	return nil
}

// CreateConversation inserts a new conversation record.
// Returns ErrDuplicateConversation if a record with the same id exists,
// which callers use to converge on the existing record for the pair.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	createdAt := conv.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO conversations (id, participant_a, participant_b, is_group, last_message, last_message_at, created_at, created_by)
		VALUES (?, ?, ?, ?, ?, NULL, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		conv.ID,
		conv.ParticipantA,
		conv.ParticipantB,
		boolToInt(conv.IsGroup),
		conv.LastMessage,
		createdAt.UTC().Format(timeLayout),
		conv.CreatedBy,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	conv.CreatedAt = createdAt
	s.logger.Debug("created conversation", "id", conv.ID, "created_by", conv.CreatedBy)
	return nil
}

// GetConversation retrieves a conversation by id, including its typing map.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := `
		SELECT id, participant_a, participant_b, is_group, last_message, last_message_at, created_at, created_by
		FROM conversations
		WHERE id = ?
	`

	conv, err := s.scanConversation(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, err
	}

	if err := s.loadTyping(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// ListConversations returns every conversation the principal participates in,
// ordered by last activity descending (conversations with no messages last).
func (s *SQLiteStore) ListConversations(ctx context.Context, principalID string) ([]*Conversation, error) {
	query := `
		SELECT id, participant_a, participant_b, is_group, last_message, last_message_at, created_at, created_by
		FROM conversations
		WHERE participant_a = ? OR participant_b = ?
		ORDER BY last_message_at IS NULL, last_message_at DESC, created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, principalID, principalID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv, err := s.scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}

	for _, conv := range convs {
		if err := s.loadTyping(ctx, conv); err != nil {
			return nil, err
		}
	}

	return convs, nil
}

// SetLastMessage updates the conversation's last-message preview and timestamp.
func (s *SQLiteStore) SetLastMessage(ctx context.Context, conversationID, text string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET last_message = ?, last_message_at = ? WHERE id = ?`,
		text, at.UTC().Format(timeLayout), conversationID)
	if err != nil {
		return fmt.Errorf("updating last message: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetTyping writes the principal's typing flag on the conversation.
// Last write wins; no history is kept.
func (s *SQLiteStore) SetTyping(ctx context.Context, conversationID, principalID string, isTyping bool) error {
	query := `
		INSERT INTO typing (conversation_id, principal_id, is_typing)
		VALUES (?, ?, ?)
		ON CONFLICT(conversation_id, principal_id) DO UPDATE SET is_typing = excluded.is_typing
	`
	_, err := s.db.ExecContext(ctx, query, conversationID, principalID, boolToInt(isTyping))
	if err != nil {
		return fmt.Errorf("updating typing state: %w", err)
	}
	return nil
}

// DeleteConversation deletes the conversation and everything under it:
// read markers, messages, typing rows, then the record itself.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM message_reads WHERE message_id IN (SELECT id FROM messages WHERE conversation_id = ?)`, id); err != nil {
		return fmt.Errorf("deleting read markers: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("deleting messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM typing WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("deleting typing state: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}

	s.logger.Debug("deleted conversation", "id", id)
	return nil
}

// SaveMessage inserts a new message. CreatedAt is assigned here so ordering
// never depends on a client clock; any pre-seeded ReadBy entries (the sender)
// are written as read markers in the same transaction.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	msg.CreatedAt = time.Now()

	var attachmentsJSON *string
	if len(msg.Attachments) > 0 {
		data, err := json.Marshal(msg.Attachments)
		if err != nil {
			return fmt.Errorf("encoding attachments: %w", err)
		}
		str := string(data)
		attachmentsJSON = &str
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning save: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO messages (id, conversation_id, sender_id, text, type, attachments_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, query,
		msg.ID,
		msg.ConversationID,
		msg.SenderID,
		msg.Text,
		msg.Type,
		attachmentsJSON,
		msg.CreatedAt.UTC().Format(timeLayout),
	); err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	for _, reader := range msg.ReadBy {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO message_reads (message_id, principal_id) VALUES (?, ?) ON CONFLICT DO NOTHING`,
			msg.ID, reader); err != nil {
			return fmt.Errorf("inserting read marker: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing save: %w", err)
	}

	s.logger.Debug("saved message", "id", msg.ID, "conversation_id", msg.ConversationID)
	return nil
}

// ListMessages returns every message in the conversation in ascending
// creation order, with read sets populated.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, text, type, attachments_json, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var msg Message
		var attachmentsJSON sql.NullString
		var createdAtStr string

		if err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&msg.SenderID,
			&msg.Text,
			&msg.Type,
			&attachmentsJSON,
			&createdAtStr,
		); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}

		msg.CreatedAt, err = time.Parse(timeLayout, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}

		if attachmentsJSON.Valid && attachmentsJSON.String != "" {
			if err := json.Unmarshal([]byte(attachmentsJSON.String), &msg.Attachments); err != nil {
				return nil, fmt.Errorf("decoding attachments: %w", err)
			}
		}

		msgs = append(msgs, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	for _, msg := range msgs {
		readers, err := s.loadReaders(ctx, msg.ID)
		if err != nil {
			return nil, err
		}
		msg.ReadBy = readers
	}

	return msgs, nil
}

// AddMessageReader adds the principal to the message's read set.
// INSERT OR IGNORE gives set-union semantics: concurrent readers never
// overwrite each other and a reader is never removed.
func (s *SQLiteStore) AddMessageReader(ctx context.Context, messageID, principalID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO message_reads (message_id, principal_id) VALUES (?, ?) ON CONFLICT DO NOTHING`,
		messageID, principalID)
	if err != nil {
		return fmt.Errorf("inserting read marker: %w", err)
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanConversation
type scanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanConversation(row scanner) (*Conversation, error) {
	var conv Conversation
	var isGroup int
	var lastMessageAtStr sql.NullString
	var createdAtStr string

	err := row.Scan(
		&conv.ID,
		&conv.ParticipantA,
		&conv.ParticipantB,
		&isGroup,
		&conv.LastMessage,
		&lastMessageAtStr,
		&createdAtStr,
		&conv.CreatedBy,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}

	conv.IsGroup = isGroup != 0

	conv.CreatedAt, err = time.Parse(timeLayout, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	if lastMessageAtStr.Valid {
		at, err := time.Parse(timeLayout, lastMessageAtStr.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_message_at: %w", err)
		}
		conv.LastMessageAt = &at
	}

	return &conv, nil
}

func (s *SQLiteStore) loadTyping(ctx context.Context, conv *Conversation) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT principal_id, is_typing FROM typing WHERE conversation_id = ?`, conv.ID)
	if err != nil {
		return fmt.Errorf("querying typing state: %w", err)
	}
	defer rows.Close()

	conv.Typing = make(map[string]bool)
	for rows.Next() {
		var principalID string
		var isTyping int
		if err := rows.Scan(&principalID, &isTyping); err != nil {
			return fmt.Errorf("scanning typing state: %w", err)
		}
		conv.Typing[principalID] = isTyping != 0
	}
	return rows.Err()
}

func (s *SQLiteStore) loadReaders(ctx context.Context, messageID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT principal_id FROM message_reads WHERE message_id = ? ORDER BY principal_id`, messageID)
	if err != nil {
		return nil, fmt.Errorf("querying read markers: %w", err)
	}
	defer rows.Close()

	var readers []string
	for rows.Next() {
		var principalID string
		if err := rows.Scan(&principalID); err != nil {
			return nil, fmt.Errorf("scanning read marker: %w", err)
		}
		readers = append(readers, principalID)
	}
	return readers, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
