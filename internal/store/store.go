package store

import (
	"context"
	"errors"
	"time"

	"github.com/gunko23/film-collective-sub003/internal/chat"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// MessageStore handles message persistence.
type MessageStore interface {
	// InsertMessage persists a new message. ID and CreatedAt must already be
	// assigned by the caller.
	InsertMessage(ctx context.Context, msg *chat.Message) error

	// GetMessage retrieves a message by id.
	GetMessage(ctx context.Context, id string) (*chat.Message, error)

	// ListBefore returns up to limit messages of a channel created strictly
	// before the given time, newest first.
	ListBefore(ctx context.Context, channelID string, before time.Time, limit int) ([]*chat.Message, error)

	// ListSince returns up to limit messages of a channel created strictly
	// after the given time, oldest first.
	ListSince(ctx context.Context, channelID string, since time.Time, limit int) ([]*chat.Message, error)

	// UpdateContent applies a soft edit: new content, IsEdited, UpdatedAt.
	UpdateContent(ctx context.Context, id, content string, updatedAt time.Time) error

	// MarkDeleted applies a soft delete: IsDeleted, cleared content, UpdatedAt.
	MarkDeleted(ctx context.Context, id string, updatedAt time.Time) error
}

// ReactionStore handles reaction persistence.
type ReactionStore interface {
	// GetReaction retrieves a reaction by its unique triple.
	GetReaction(ctx context.Context, messageID string, userID int64, typ chat.ReactionType) (*chat.Reaction, error)

	// InsertReaction persists a reaction.
	InsertReaction(ctx context.Context, r *chat.Reaction) error

	// DeleteReaction removes a reaction by its unique triple.
	DeleteReaction(ctx context.Context, messageID string, userID int64, typ chat.ReactionType) error

	// ListReactions returns all reactions for the given message ids.
	ListReactions(ctx context.Context, messageIDs []string) ([]chat.Reaction, error)
}

// ReceiptStore handles read-receipt persistence.
type ReceiptStore interface {
	// UpsertReceipt inserts or advances the (channel, user) read watermark.
	UpsertReceipt(ctx context.Context, r *chat.ReadReceipt) error

	// GetReceipt retrieves the watermark for a (channel, user) pair.
	GetReceipt(ctx context.Context, channelID string, userID int64) (*chat.ReadReceipt, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	MessageStore
	ReactionStore
	ReceiptStore

	// Close closes the underlying database connection.
	Close() error
}
