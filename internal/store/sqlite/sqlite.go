package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gunko23/film-collective-sub003/internal/chat"
	"github.com/gunko23/film-collective-sub003/internal/store"
)

// Schema holds the chat tables. Applied on startup; CREATE IF NOT EXISTS
// keeps restarts cheap.
const Schema = `
CREATE TABLE IF NOT EXISTS messages (
	id           TEXT PRIMARY KEY,
	channel_id   TEXT NOT NULL,
	author_id    INTEGER NOT NULL,
	author_name  TEXT NOT NULL DEFAULT '',
	content      TEXT NOT NULL DEFAULT '',
	gif_url      TEXT NOT NULL DEFAULT '',
	reply_to_id  TEXT,
	is_edited    BOOLEAN NOT NULL DEFAULT 0,
	is_deleted   BOOLEAN NOT NULL DEFAULT 0,
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL,
	client_token TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_messages_channel_created
	ON messages(channel_id, created_at DESC);

CREATE TABLE IF NOT EXISTS reactions (
	id            TEXT PRIMARY KEY,
	message_id    TEXT NOT NULL,
	user_id       INTEGER NOT NULL,
	reaction_type TEXT NOT NULL,
	created_at    DATETIME NOT NULL,
	UNIQUE (message_id, user_id, reaction_type),
	FOREIGN KEY (message_id) REFERENCES messages(id)
);

CREATE TABLE IF NOT EXISTS read_receipts (
	channel_id           TEXT NOT NULL,
	user_id              INTEGER NOT NULL,
	last_read_message_id TEXT NOT NULL,
	last_read_at         DATETIME NOT NULL,
	PRIMARY KEY (channel_id, user_id)
);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, func(db *sql.DB) error {
		_, err := db.Exec(Schema)
		return err
	})
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply a custom schema.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== MessageStore implementation ====

const messageColumns = `id, channel_id, author_id, author_name, content, gif_url,
	COALESCE(reply_to_id, ''), is_edited, is_deleted, created_at, updated_at, client_token`

// InsertMessage persists a new message.
func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *chat.Message) error {
	query := `
		INSERT INTO messages (id, channel_id, author_id, author_name, content, gif_url,
			reply_to_id, is_edited, is_deleted, created_at, updated_at, client_token)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?, ?)
	`
	var replyTo any
	if msg.ReplyToID != "" {
		replyTo = msg.ReplyToID
	}
	_, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.ChannelID, msg.AuthorID, msg.AuthorName, msg.Content, msg.GifURL,
		replyTo, msg.CreatedAt, msg.UpdatedAt, msg.ClientToken,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// GetMessage retrieves a message by id.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*chat.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = ?`
	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query message: %w", err)
	}
	return msg, nil
}

// ListBefore returns up to limit messages created strictly before the given
// time, newest first.
func (s *SQLiteStore) ListBefore(ctx context.Context, channelID string, before time.Time, limit int) ([]*chat.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE channel_id = ? AND created_at < ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`
	return s.listMessages(ctx, query, channelID, before, limit)
}

// ListSince returns up to limit messages created strictly after the given
// time, oldest first.
func (s *SQLiteStore) ListSince(ctx context.Context, channelID string, since time.Time, limit int) ([]*chat.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE channel_id = ? AND created_at > ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`
	return s.listMessages(ctx, query, channelID, since, limit)
}

func (s *SQLiteStore) listMessages(ctx context.Context, query, channelID string, anchor time.Time, limit int) ([]*chat.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, channelID, anchor, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*chat.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*chat.Message, error) {
	var msg chat.Message
	err := row.Scan(
		&msg.ID,
		&msg.ChannelID,
		&msg.AuthorID,
		&msg.AuthorName,
		&msg.Content,
		&msg.GifURL,
		&msg.ReplyToID,
		&msg.IsEdited,
		&msg.IsDeleted,
		&msg.CreatedAt,
		&msg.UpdatedAt,
		&msg.ClientToken,
	)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// UpdateContent applies a soft edit.
func (s *SQLiteStore) UpdateContent(ctx context.Context, id, content string, updatedAt time.Time) error {
	query := `
		UPDATE messages
		SET content = ?, is_edited = 1, updated_at = ?
		WHERE id = ? AND is_deleted = 0
	`
	result, err := s.db.ExecContext(ctx, query, content, updatedAt, id)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	return requireRow(result)
}

// MarkDeleted applies a soft delete. Content is blanked out so the text is
// gone from reads, but the row and its id remain.
func (s *SQLiteStore) MarkDeleted(ctx context.Context, id string, updatedAt time.Time) error {
	query := `
		UPDATE messages
		SET is_deleted = 1, content = '', gif_url = '', updated_at = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query, updatedAt, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return requireRow(result)
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ==== ReactionStore implementation ====

// GetReaction retrieves a reaction by its unique triple.
func (s *SQLiteStore) GetReaction(ctx context.Context, messageID string, userID int64, typ chat.ReactionType) (*chat.Reaction, error) {
	query := `
		SELECT id, message_id, user_id, reaction_type, created_at
		FROM reactions
		WHERE message_id = ? AND user_id = ? AND reaction_type = ?
	`
	var r chat.Reaction
	err := s.db.QueryRowContext(ctx, query, messageID, userID, string(typ)).Scan(
		&r.ID, &r.MessageID, &r.UserID, &r.Type, &r.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query reaction: %w", err)
	}
	return &r, nil
}

// InsertReaction persists a reaction.
func (s *SQLiteStore) InsertReaction(ctx context.Context, r *chat.Reaction) error {
	query := `
		INSERT INTO reactions (id, message_id, user_id, reaction_type, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query, r.ID, r.MessageID, r.UserID, string(r.Type), r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert reaction: %w", err)
	}
	return nil
}

// DeleteReaction removes a reaction by its unique triple.
func (s *SQLiteStore) DeleteReaction(ctx context.Context, messageID string, userID int64, typ chat.ReactionType) error {
	query := `
		DELETE FROM reactions
		WHERE message_id = ? AND user_id = ? AND reaction_type = ?
	`
	result, err := s.db.ExecContext(ctx, query, messageID, userID, string(typ))
	if err != nil {
		return fmt.Errorf("delete reaction: %w", err)
	}
	return requireRow(result)
}

// ListReactions returns all reactions for the given message ids.
func (s *SQLiteStore) ListReactions(ctx context.Context, messageIDs []string) ([]chat.Reaction, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(messageIDs))
	placeholders = placeholders[:len(placeholders)-1]
	query := `
		SELECT id, message_id, user_id, reaction_type, created_at
		FROM reactions
		WHERE message_id IN (` + placeholders + `)
		ORDER BY created_at ASC
	`

	args := make([]any, len(messageIDs))
	for i, id := range messageIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reactions: %w", err)
	}
	defer rows.Close()

	var reactions []chat.Reaction
	for rows.Next() {
		var r chat.Reaction
		if err := rows.Scan(&r.ID, &r.MessageID, &r.UserID, &r.Type, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reaction: %w", err)
		}
		reactions = append(reactions, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reactions: %w", err)
	}
	return reactions, nil
}

// ==== ReceiptStore implementation ====

// UpsertReceipt inserts or advances the (channel, user) read watermark.
func (s *SQLiteStore) UpsertReceipt(ctx context.Context, r *chat.ReadReceipt) error {
	query := `
		INSERT INTO read_receipts (channel_id, user_id, last_read_message_id, last_read_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (channel_id, user_id)
		DO UPDATE SET last_read_message_id = excluded.last_read_message_id,
		              last_read_at = excluded.last_read_at
	`
	_, err := s.db.ExecContext(ctx, query, r.ChannelID, r.UserID, r.LastReadMessageID, r.LastReadAt)
	if err != nil {
		return fmt.Errorf("upsert receipt: %w", err)
	}
	return nil
}

// GetReceipt retrieves the watermark for a (channel, user) pair.
func (s *SQLiteStore) GetReceipt(ctx context.Context, channelID string, userID int64) (*chat.ReadReceipt, error) {
	query := `
		SELECT channel_id, user_id, last_read_message_id, last_read_at
		FROM read_receipts
		WHERE channel_id = ? AND user_id = ?
	`
	var r chat.ReadReceipt
	err := s.db.QueryRowContext(ctx, query, channelID, userID).Scan(
		&r.ChannelID, &r.UserID, &r.LastReadMessageID, &r.LastReadAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query receipt: %w", err)
	}
	return &r, nil
}
