package chat

import (
	"errors"
	"time"
)

// ErrEmptyMessage is returned when a message has neither text nor a GIF.
var ErrEmptyMessage = errors.New("message needs content or a gif")

// Message is the domain model for a discussion message.
// ID and CreatedAt are assigned by the server and never change; edits and
// deletes are soft mutations that bump UpdatedAt.
type Message struct {
	ID         string
	ChannelID  string
	AuthorID   int64
	AuthorName string
	Content    string
	GifURL     string
	ReplyToID  string
	ReplyTo    *ReplySnapshot
	IsEdited   bool
	IsDeleted  bool
	CreatedAt  time.Time
	UpdatedAt  time.Time

	// ClientToken is the sender-generated idempotency token echoed back by
	// the server so the sending client can match the confirmation to its
	// optimistic entry even when two identical texts are in flight.
	ClientToken string
}

// ReplySnapshot is a denormalized excerpt of the message being replied to.
// It is resolved at send/fetch time; the reference is weak, so a purged
// parent simply yields a nil snapshot.
type ReplySnapshot struct {
	ID         string
	AuthorName string
	Excerpt    string
}

// Validate checks the content-or-gif invariant.
func (m *Message) Validate() error {
	if m.Content == "" && m.GifURL == "" {
		return ErrEmptyMessage
	}
	return nil
}

// ReactionType is one of the fixed set of reaction symbols.
type ReactionType string

const (
	ReactionThumbsUp ReactionType = "👍"
	ReactionHeart    ReactionType = "❤️"
	ReactionLaugh    ReactionType = "😂"
	ReactionWow      ReactionType = "😮"
	ReactionSad      ReactionType = "😢"
	ReactionFire     ReactionType = "🔥"
	ReactionPopcorn  ReactionType = "🍿"
	ReactionClapper  ReactionType = "🎬"
)

var reactionTypes = map[ReactionType]struct{}{
	ReactionThumbsUp: {},
	ReactionHeart:    {},
	ReactionLaugh:    {},
	ReactionWow:      {},
	ReactionSad:      {},
	ReactionFire:     {},
	ReactionPopcorn:  {},
	ReactionClapper:  {},
}

// Valid reports whether t belongs to the fixed reaction set.
func (t ReactionType) Valid() bool {
	_, ok := reactionTypes[t]
	return ok
}

// Reaction is a single user's reaction on a message. At most one reaction
// exists per (MessageID, UserID, Type); toggling is an idempotent add/remove.
type Reaction struct {
	ID        string
	MessageID string
	UserID    int64
	Type      ReactionType
	CreatedAt time.Time
}

// ReadReceipt is the per-user read watermark for a channel. Upserted on
// every read, never deleted while the user stays a member.
type ReadReceipt struct {
	ChannelID         string
	UserID            int64
	LastReadMessageID string
	LastReadAt        time.Time
}

// TypingStaleAfter is how long a typing entry stays visible without refresh.
const TypingStaleAfter = 5 * time.Second

// TypingEntry is ephemeral presence state; it logically expires
// TypingStaleAfter after UpdatedAt and is never persisted long-term.
type TypingEntry struct {
	ChannelID string    `json:"channel_id"`
	UserID    int64     `json:"user_id"`
	UserName  string    `json:"user_name"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Stale reports whether the entry has expired as of now.
func (e TypingEntry) Stale(now time.Time) bool {
	return now.Sub(e.UpdatedAt) >= TypingStaleAfter
}
