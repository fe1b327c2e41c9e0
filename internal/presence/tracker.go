// Package presence tracks who is typing in a channel. State is ephemeral:
// a coarse TTL on the store plus a 5-second per-entry staleness check.
package presence

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/gunko23/film-collective-sub003/internal/chat"
	"github.com/gunko23/film-collective-sub003/internal/realtime"
)

// Tracker provides typing-indicator operations over a PresenceStore.
type Tracker struct {
	store realtime.PresenceStore
	now   func() time.Time
}

// NewTracker builds a tracker using the wall clock.
func NewTracker(store realtime.PresenceStore) *Tracker {
	return NewTrackerWithClock(store, time.Now)
}

// NewTrackerWithClock builds a tracker with an injected clock.
func NewTrackerWithClock(store realtime.PresenceStore, now func() time.Time) *Tracker {
	return &Tracker{store: store, now: now}
}

// SetTyping upserts the user's typing entry with a fresh timestamp.
func (t *Tracker) SetTyping(ctx context.Context, channelID string, userID int64, userName string) error {
	entry := chat.TypingEntry{
		ChannelID: channelID,
		UserID:    userID,
		UserName:  userName,
		UpdatedAt: t.now().UTC(),
	}
	if err := t.store.SetTyping(ctx, channelID, entry); err != nil {
		return fmt.Errorf("set typing: %w", err)
	}
	return nil
}

// StopTyping removes the user's entry, typically right before their message
// lands.
func (t *Tracker) StopTyping(ctx context.Context, channelID string, userID int64) error {
	if err := t.store.ClearTyping(ctx, channelID, userID); err != nil {
		return fmt.Errorf("stop typing: %w", err)
	}
	return nil
}

// ListTyping returns fresh entries for the channel, excluding the
// requesting user, sorted by name for stable rendering.
func (t *Tracker) ListTyping(ctx context.Context, channelID string, exceptUserID int64) ([]chat.TypingEntry, error) {
	all, err := t.store.ListTyping(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("list typing: %w", err)
	}

	now := t.now()
	fresh := make([]chat.TypingEntry, 0, len(all))
	for _, entry := range all {
		if entry.UserID == exceptUserID {
			continue
		}
		if entry.Stale(now) {
			continue
		}
		fresh = append(fresh, entry)
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].UserName < fresh[j].UserName })
	return fresh, nil
}
