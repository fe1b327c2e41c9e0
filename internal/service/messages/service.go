// Package messages is the persistence and query layer behind the chat
// transport: paginated history, sends, reaction toggles and read receipts,
// with fan-out to the realtime buffer after every successful write.
package messages

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gunko23/film-collective-sub003/internal/chat"
	"github.com/gunko23/film-collective-sub003/internal/metrics"
	"github.com/gunko23/film-collective-sub003/internal/realtime"
	"github.com/gunko23/film-collective-sub003/internal/store"
)

// Common errors for message operations.
var (
	ErrNotMember       = errors.New("user is not a member of this channel")
	ErrMessageNotFound = errors.New("message not found")
	ErrNotAuthor       = errors.New("only the author can modify a message")
	ErrInvalidReaction = errors.New("unknown reaction type")
	ErrLimitRequired   = errors.New("limit must be positive")
)

const (
	// MaxPageSize caps every page query.
	MaxPageSize = 100
	// DefaultPageSize applies when the caller passes no limit.
	DefaultPageSize = 50
	// replyExcerptLen bounds the reply snapshot text.
	replyExcerptLen = 120
)

// MembershipChecker answers whether a user may read and write a channel.
// Membership data itself belongs to the platform, not to the chat core.
type MembershipChecker interface {
	IsMember(ctx context.Context, userID int64, channelID string) (bool, error)
}

// Identity is the resolved display data for an opaque user id.
type Identity struct {
	Name      string
	AvatarURL string
}

// IdentityResolver maps platform user ids to display identities.
type IdentityResolver interface {
	Resolve(ctx context.Context, userID int64) (Identity, error)
}

// Notifier receives the fire-and-forget "new message" fact after a
// successful send. Delivery and formatting are its concern entirely.
type Notifier interface {
	NotifyNewMessage(channelID string, msg *chat.Message)
}

// Service implements the chat persistence and query operations.
type Service struct {
	store      store.Store
	buffer     *realtime.EventBuffer
	membership MembershipChecker
	identity   IdentityResolver
	notifier   Notifier
	log        *zerolog.Logger
	now        func() time.Time
}

// New creates a message service. notifier may be nil.
func New(st store.Store, buffer *realtime.EventBuffer, membership MembershipChecker, identity IdentityResolver, notifier Notifier, logger *zerolog.Logger) *Service {
	return &Service{
		store:      st,
		buffer:     buffer,
		membership: membership,
		identity:   identity,
		notifier:   notifier,
		log:        logger,
		now:        time.Now,
	}
}

// Page is a chronological slice of a channel's history.
type Page struct {
	Messages []*chat.Message
	// Reactions holds the reactions of every message in the page, keyed by
	// message id.
	Reactions map[string][]chat.Reaction
	HasMore   bool
	// NextCursor is set by FetchSince to the CreatedAt of the last message.
	NextCursor time.Time
}

// FetchPageParams selects a backward history page. Before is the anchor
// message id; empty means "latest page".
type FetchPageParams struct {
	ChannelID string
	UserID    int64
	Before    string
	Limit     int
}

// FetchPage returns up to Limit messages older than the anchor, in
// chronological order, with reactions attached.
func (s *Service) FetchPage(ctx context.Context, p FetchPageParams) (*Page, error) {
	if err := s.requireMember(ctx, p.UserID, p.ChannelID); err != nil {
		return nil, err
	}
	limit := clampLimit(p.Limit)

	anchor := s.now().UTC()
	if p.Before != "" {
		anchorMsg, err := s.store.GetMessage(ctx, p.Before)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, ErrMessageNotFound
			}
			return nil, fmt.Errorf("resolve anchor: %w", err)
		}
		anchor = anchorMsg.CreatedAt
	}

	msgs, err := s.store.ListBefore(ctx, p.ChannelID, anchor, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	hasMore := len(msgs) == limit

	// The store returns newest-first for an efficient index walk; the page
	// is chronological for consumers.
	reverse(msgs)
	page := &Page{Messages: msgs, HasMore: hasMore}
	if err := s.attach(ctx, page); err != nil {
		return nil, err
	}
	return page, nil
}

// FetchSince returns up to limit messages created after the cursor, oldest
// first, for live catch-up. NextCursor advances to the last CreatedAt.
func (s *Service) FetchSince(ctx context.Context, channelID string, userID int64, cursor time.Time, limit int) (*Page, error) {
	if err := s.requireMember(ctx, userID, channelID); err != nil {
		return nil, err
	}
	limit = clampLimit(limit)

	msgs, err := s.store.ListSince(ctx, channelID, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages since: %w", err)
	}

	page := &Page{Messages: msgs, HasMore: len(msgs) == limit}
	if len(msgs) > 0 {
		page.NextCursor = msgs[len(msgs)-1].CreatedAt
	} else {
		page.NextCursor = cursor
	}
	if err := s.attach(ctx, page); err != nil {
		return nil, err
	}
	return page, nil
}

// SendParams describes an outgoing message.
type SendParams struct {
	ChannelID   string
	AuthorID    int64
	Content     string
	GifURL      string
	ReplyToID   string
	ClientToken string
}

// Send validates, persists and fans out a message, returning the confirmed
// record with the client token echoed back for optimistic reconciliation.
func (s *Service) Send(ctx context.Context, p SendParams) (*chat.Message, error) {
	if err := s.requireMember(ctx, p.AuthorID, p.ChannelID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	msg := &chat.Message{
		ID:          uuid.NewString(),
		ChannelID:   p.ChannelID,
		AuthorID:    p.AuthorID,
		Content:     p.Content,
		GifURL:      p.GifURL,
		ReplyToID:   p.ReplyToID,
		CreatedAt:   now,
		UpdatedAt:   now,
		ClientToken: p.ClientToken,
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	if ident, err := s.identity.Resolve(ctx, p.AuthorID); err == nil {
		msg.AuthorName = ident.Name
	} else {
		s.log.Debug().Err(err).Int64("user_id", p.AuthorID).Msg("identity lookup failed")
	}

	if p.ReplyToID != "" {
		msg.ReplyTo = s.resolveReply(ctx, p.ReplyToID)
	}

	if err := s.store.InsertMessage(ctx, msg); err != nil {
		metrics.SendFailures.Inc()
		return nil, fmt.Errorf("persist message: %w", err)
	}

	s.publish(ctx, chat.Envelope{
		Type:       chat.EventNewMessage,
		ChannelID:  p.ChannelID,
		NewMessage: &chat.NewMessageEvent{Message: chat.ToWire(msg, nil)},
	})

	if s.notifier != nil {
		go s.notifier.NotifyNewMessage(p.ChannelID, msg)
	}

	return msg, nil
}

// ReactionResult reports the outcome of a toggle.
type ReactionResult struct {
	Action string // "added" or "removed"
}

// ToggleReaction adds the reaction if absent, removes it if present.
// Toggling twice always returns to the original state.
func (s *Service) ToggleReaction(ctx context.Context, messageID string, userID int64, typ chat.ReactionType) (*ReactionResult, error) {
	if !typ.Valid() {
		return nil, ErrInvalidReaction
	}

	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("load message: %w", err)
	}
	if err := s.requireMember(ctx, userID, msg.ChannelID); err != nil {
		return nil, err
	}

	action := "added"
	_, err = s.store.GetReaction(ctx, messageID, userID, typ)
	switch {
	case err == nil:
		if err := s.store.DeleteReaction(ctx, messageID, userID, typ); err != nil {
			return nil, fmt.Errorf("remove reaction: %w", err)
		}
		action = "removed"
	case errors.Is(err, store.ErrNotFound):
		r := &chat.Reaction{
			ID:        uuid.NewString(),
			MessageID: messageID,
			UserID:    userID,
			Type:      typ,
			CreatedAt: s.now().UTC(),
		}
		if err := s.store.InsertReaction(ctx, r); err != nil {
			return nil, fmt.Errorf("add reaction: %w", err)
		}
	default:
		return nil, fmt.Errorf("check reaction: %w", err)
	}

	s.publish(ctx, chat.Envelope{
		Type:      chat.EventReaction,
		ChannelID: msg.ChannelID,
		Reaction: &chat.ReactionEvent{
			MessageID: messageID,
			UserID:    userID,
			Type:      typ,
			Action:    action,
		},
	})

	return &ReactionResult{Action: action}, nil
}

// Edit soft-mutates the content of the author's own message.
func (s *Service) Edit(ctx context.Context, messageID string, authorID int64, content string) (*chat.Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("load message: %w", err)
	}
	if msg.AuthorID != authorID {
		return nil, ErrNotAuthor
	}
	if content == "" && msg.GifURL == "" {
		return nil, chat.ErrEmptyMessage
	}

	if err := s.store.UpdateContent(ctx, messageID, content, s.now().UTC()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("edit message: %w", err)
	}
	return s.store.GetMessage(ctx, messageID)
}

// Delete soft-deletes the author's own message.
func (s *Service) Delete(ctx context.Context, messageID string, authorID int64) error {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrMessageNotFound
		}
		return fmt.Errorf("load message: %w", err)
	}
	if msg.AuthorID != authorID {
		return ErrNotAuthor
	}

	if err := s.store.MarkDeleted(ctx, messageID, s.now().UTC()); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// MarkRead upserts the user's read watermark. Best-effort: failures are
// logged and swallowed, never surfaced.
func (s *Service) MarkRead(ctx context.Context, channelID string, userID int64, messageID string) {
	receipt := &chat.ReadReceipt{
		ChannelID:         channelID,
		UserID:            userID,
		LastReadMessageID: messageID,
		LastReadAt:        s.now().UTC(),
	}
	if err := s.store.UpsertReceipt(ctx, receipt); err != nil {
		s.log.Debug().Err(err).Str("channel", channelID).Int64("user_id", userID).Msg("read receipt dropped")
	}
}

func (s *Service) requireMember(ctx context.Context, userID int64, channelID string) error {
	ok, err := s.membership.IsMember(ctx, userID, channelID)
	if err != nil {
		return fmt.Errorf("membership check: %w", err)
	}
	if !ok {
		return ErrNotMember
	}
	return nil
}

func (s *Service) resolveReply(ctx context.Context, replyToID string) *chat.ReplySnapshot {
	parent, err := s.store.GetMessage(ctx, replyToID)
	if err != nil {
		// Weak reference: a missing parent degrades to no snapshot.
		s.log.Debug().Err(err).Str("reply_to", replyToID).Msg("reply target not found")
		return nil
	}
	excerpt := parent.Content
	if excerpt == "" && parent.GifURL != "" {
		excerpt = "GIF"
	}
	// Truncate by runes so a multi-byte character never gets split.
	if r := []rune(excerpt); len(r) > replyExcerptLen {
		excerpt = string(r[:replyExcerptLen])
	}
	return &chat.ReplySnapshot{
		ID:         parent.ID,
		AuthorName: parent.AuthorName,
		Excerpt:    excerpt,
	}
}

func (s *Service) publish(ctx context.Context, env chat.Envelope) {
	if err := s.buffer.Publish(ctx, env); err != nil {
		// Fan-out failures never fail the write; the buffer loss window is
		// bounded and clients re-fetch on reconnect.
		s.log.Warn().Err(err).Str("channel", env.ChannelID).Msg("event publish failed")
	}
}

func (s *Service) attach(ctx context.Context, page *Page) error {
	if len(page.Messages) == 0 {
		return nil
	}
	ids := make([]string, len(page.Messages))
	for i, m := range page.Messages {
		ids[i] = m.ID
	}
	reactions, err := s.store.ListReactions(ctx, ids)
	if err != nil {
		return fmt.Errorf("list reactions: %w", err)
	}
	page.Reactions = make(map[string][]chat.Reaction, len(ids))
	for _, r := range reactions {
		page.Reactions[r.MessageID] = append(page.Reactions[r.MessageID], r)
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}

func reverse(msgs []*chat.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
