// Package client holds the connection-side state machines: the optimistic
// message log, the reconnecting stream and the typing reporter. Everything
// here runs inside one consumer (a browser session, a bot, a test) and
// mutates state behind a single mutex, mirroring the single-threaded UI
// model of the web client.
package client

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/gunko23/film-collective-sub003/internal/chat"
)

// ReactionSyncStrategy selects how remote reaction events are applied.
type ReactionSyncStrategy int

const (
	// StrategyOptimistic merges reaction add/remove events directly into
	// local state.
	StrategyOptimistic ReactionSyncStrategy = iota
	// StrategyRefetch re-fetches the affected message's reactions through
	// the Fetcher instead of merging.
	StrategyRefetch
)

// Sender submits a message to the server and returns the confirmed record.
type Sender interface {
	Send(ctx context.Context, channelID, content, gifURL, clientToken string) (*chat.Message, error)
}

// ReactionToggler submits a reaction toggle and reports the server verdict
// ("added" or "removed").
type ReactionToggler interface {
	ToggleReaction(ctx context.Context, messageID string, typ chat.ReactionType) (string, error)
}

// Fetcher re-fetches the reactions of a single message; used by
// StrategyRefetch.
type Fetcher interface {
	FetchReactions(ctx context.Context, messageID string) ([]chat.Reaction, error)
}

// HistoryFetcher loads the latest page of a channel's history. Used by
// Resync when a reconnect gap outlived the server's buffered window.
type HistoryFetcher interface {
	FetchLatest(ctx context.Context, channelID string) ([]*chat.Message, map[string][]chat.Reaction, error)
}

// Entry is a message as held by the log, with its reactions and optimistic
// state.
type Entry struct {
	Message   chat.Message
	Reactions []chat.Reaction
	// Pending marks a locally created entry not yet confirmed by the server.
	Pending bool
}

// MessageLog is the ordered client-side message list for one channel. It
// applies optimistic inserts, reconciles server confirmations and remote
// events, and guarantees a duplicate-free list sorted ascending by
// CreatedAt (ties broken by id).
type MessageLog struct {
	mu        sync.Mutex
	channelID string
	authorID  int64
	entries   []Entry

	sender   Sender
	toggler  ReactionToggler
	fetcher  Fetcher
	history  HistoryFetcher
	strategy ReactionSyncStrategy

	// OnTyping, when set, receives typing events from ApplyEnvelope.
	OnTyping func(chat.TypingEvent)
	// OnError, when set, receives send failures after rollback.
	OnError func(error)
}

// Options configures a MessageLog.
type Options struct {
	ChannelID string
	AuthorID  int64
	Sender    Sender
	Toggler   ReactionToggler
	Fetcher   Fetcher
	History   HistoryFetcher
	Strategy  ReactionSyncStrategy
}

// NewMessageLog builds an empty log.
func NewMessageLog(opts Options) *MessageLog {
	return &MessageLog{
		channelID: opts.ChannelID,
		authorID:  opts.AuthorID,
		sender:    opts.Sender,
		toggler:   opts.Toggler,
		fetcher:   opts.Fetcher,
		history:   opts.History,
		strategy:  opts.Strategy,
	}
}

// Reset replaces the whole list, e.g. after a full page re-fetch when the
// catch-up buffer has expired.
func (l *MessageLog) Reset(msgs []*chat.Message, reactions map[string][]chat.Reaction) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = l.entries[:0]
	for _, m := range msgs {
		l.entries = append(l.entries, Entry{Message: *m, Reactions: reactions[m.ID]})
	}
	l.normalize()
}

// Resync rebuilds the log from a fresh history page. Wire it to
// Stream.OnGap so an outage longer than the server's buffered window
// falls back from catch-up replay to a full page load.
func (l *MessageLog) Resync(ctx context.Context) error {
	if l.history == nil {
		return nil
	}
	msgs, reactions, err := l.history.FetchLatest(ctx, l.channelID)
	if err != nil {
		if l.OnError != nil {
			l.OnError(fmt.Errorf("resync history: %w", err))
		}
		return err
	}
	l.Reset(msgs, reactions)
	return nil
}

// Messages returns a snapshot of the visible list in display order.
func (l *MessageLog) Messages() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Send appends an optimistic entry immediately and submits the message. On
// confirmation the entry is replaced in place; on failure it is removed and
// OnError is invoked.
func (l *MessageLog) Send(ctx context.Context, content, gifURL string) error {
	if content == "" && gifURL == "" {
		return chat.ErrEmptyMessage
	}

	token := uuid.NewString()
	optimistic := chat.Message{
		ID:          "optimistic-" + token,
		ChannelID:   l.channelID,
		AuthorID:    l.authorID,
		Content:     content,
		GifURL:      gifURL,
		ClientToken: token,
	}

	l.mu.Lock()
	l.entries = append(l.entries, Entry{Message: optimistic, Pending: true})
	l.normalize()
	l.mu.Unlock()

	confirmed, err := l.sender.Send(ctx, l.channelID, content, gifURL, token)
	if err != nil {
		l.removeByID(optimistic.ID)
		if l.OnError != nil {
			l.OnError(fmt.Errorf("send message: %w", err))
		}
		return err
	}

	l.confirm(token, confirmed)
	return nil
}

// ApplyEnvelope folds a remote event into the log. Unknown event types are
// no-ops.
func (l *MessageLog) ApplyEnvelope(ctx context.Context, env chat.Envelope) {
	if env.ChannelID != "" && env.ChannelID != l.channelID {
		return
	}

	switch {
	case env.NewMessage != nil:
		msg, reactions := chat.FromWire(env.NewMessage.Message)
		l.applyRemoteMessage(msg, reactions)
	case env.Reaction != nil:
		l.applyReaction(ctx, *env.Reaction)
	case env.Typing != nil:
		if l.OnTyping != nil {
			l.OnTyping(*env.Typing)
		}
	}
}

// ToggleReaction flips the local reaction immediately and reconciles with
// the server verdict. Failures restore the original state silently:
// reactions are non-critical and cheap to retry by hand.
func (l *MessageLog) ToggleReaction(ctx context.Context, messageID string, typ chat.ReactionType) {
	added := l.flipReaction(messageID, l.authorID, typ)

	verdict, err := l.toggler.ToggleReaction(ctx, messageID, typ)
	if err != nil {
		// Roll the flip back.
		l.flipReaction(messageID, l.authorID, typ)
		return
	}

	// The server is authoritative; realign if the optimistic guess was
	// wrong (e.g. a race with another tab).
	if (verdict == "added") != added {
		l.flipReaction(messageID, l.authorID, typ)
	}
}

func (l *MessageLog) applyRemoteMessage(msg *chat.Message, reactions []chat.Reaction) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// First preference: reconcile by client token, which survives
	// duplicate-content races.
	if msg.ClientToken != "" {
		for i := range l.entries {
			if l.entries[i].Pending && l.entries[i].Message.ClientToken == msg.ClientToken {
				l.entries[i] = Entry{Message: *msg, Reactions: reactions}
				l.normalize()
				return
			}
		}
	}

	// Legacy fallback for servers that do not echo the token: match the
	// oldest pending entry with the same author and content.
	for i := range l.entries {
		if l.entries[i].Pending &&
			l.entries[i].Message.AuthorID == msg.AuthorID &&
			l.entries[i].Message.Content == msg.Content {
			l.entries[i] = Entry{Message: *msg, Reactions: reactions}
			l.normalize()
			return
		}
	}

	// Dedupe by id, then append.
	for i := range l.entries {
		if l.entries[i].Message.ID == msg.ID {
			return
		}
	}
	l.entries = append(l.entries, Entry{Message: *msg, Reactions: reactions})
	l.normalize()
}

func (l *MessageLog) applyReaction(ctx context.Context, ev chat.ReactionEvent) {
	if l.strategy == StrategyRefetch && l.fetcher != nil {
		reactions, err := l.fetcher.FetchReactions(ctx, ev.MessageID)
		if err != nil {
			return
		}
		l.mu.Lock()
		for i := range l.entries {
			if l.entries[i].Message.ID == ev.MessageID {
				l.entries[i].Reactions = reactions
				break
			}
		}
		l.mu.Unlock()
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.entries {
		if l.entries[i].Message.ID != ev.MessageID {
			continue
		}
		if ev.Action == "added" {
			if !hasReaction(l.entries[i].Reactions, ev.UserID, ev.Type) {
				l.entries[i].Reactions = append(l.entries[i].Reactions, chat.Reaction{
					MessageID: ev.MessageID,
					UserID:    ev.UserID,
					Type:      ev.Type,
				})
			}
		} else {
			l.entries[i].Reactions = removeReaction(l.entries[i].Reactions, ev.UserID, ev.Type)
		}
		return
	}
}

// flipReaction toggles the local copy and reports whether it is now present.
func (l *MessageLog) flipReaction(messageID string, userID int64, typ chat.ReactionType) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.entries {
		if l.entries[i].Message.ID != messageID {
			continue
		}
		if hasReaction(l.entries[i].Reactions, userID, typ) {
			l.entries[i].Reactions = removeReaction(l.entries[i].Reactions, userID, typ)
			return false
		}
		l.entries[i].Reactions = append(l.entries[i].Reactions, chat.Reaction{
			MessageID: messageID,
			UserID:    userID,
			Type:      typ,
		})
		return true
	}
	return false
}

func (l *MessageLog) confirm(token string, confirmed *chat.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.entries {
		if l.entries[i].Pending && l.entries[i].Message.ClientToken == token {
			l.entries[i] = Entry{Message: *confirmed}
			l.normalize()
			return
		}
	}
	// The remote event may have reconciled it first; make sure the
	// confirmed record exists exactly once.
	for i := range l.entries {
		if l.entries[i].Message.ID == confirmed.ID {
			return
		}
	}
	l.entries = append(l.entries, Entry{Message: *confirmed})
	l.normalize()
}

func (l *MessageLog) removeByID(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.entries {
		if l.entries[i].Message.ID == id {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return
		}
	}
}

// normalize restores the ordering and uniqueness guarantees. Pending
// entries have a zero CreatedAt and sort last, which keeps the optimistic
// message at the bottom of the view until confirmed.
func (l *MessageLog) normalize() {
	sort.SliceStable(l.entries, func(i, j int) bool {
		a, b := l.entries[i], l.entries[j]
		if a.Pending != b.Pending {
			return !a.Pending
		}
		if !a.Message.CreatedAt.Equal(b.Message.CreatedAt) {
			return a.Message.CreatedAt.Before(b.Message.CreatedAt)
		}
		return a.Message.ID < b.Message.ID
	})

	seen := make(map[string]struct{}, len(l.entries))
	deduped := l.entries[:0]
	for _, e := range l.entries {
		if _, ok := seen[e.Message.ID]; ok {
			continue
		}
		seen[e.Message.ID] = struct{}{}
		deduped = append(deduped, e)
	}
	l.entries = deduped
}

func hasReaction(rs []chat.Reaction, userID int64, typ chat.ReactionType) bool {
	for _, r := range rs {
		if r.UserID == userID && r.Type == typ {
			return true
		}
	}
	return false
}

// removeReaction filters out one user's reaction. It allocates a fresh
// slice rather than compacting in place: snapshots handed out by Messages
// share the old backing array and must keep their contents.
func removeReaction(rs []chat.Reaction, userID int64, typ chat.ReactionType) []chat.Reaction {
	out := make([]chat.Reaction, 0, len(rs))
	for _, r := range rs {
		if r.UserID == userID && r.Type == typ {
			continue
		}
		out = append(out, r)
	}
	return out
}
