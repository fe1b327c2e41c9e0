package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/gunko23/film-collective-sub003/internal/chat"
	"github.com/gunko23/film-collective-sub003/internal/metrics"
)

const (
	// BufferMaxEntries bounds the per-channel retention window.
	BufferMaxEntries = 100
	// BufferTTL is the idle expiry of a channel's buffer.
	BufferTTL = 5 * time.Minute
	// PresenceTTL is the coarse expiry of a channel's typing hash. Finer
	// per-entry staleness is enforced by presence.Tracker.
	PresenceTTL = 10 * time.Second
)

// BufferStore persists the short-retention event window for a channel.
// Implementations must keep newest-first list order, trim to
// BufferMaxEntries and refresh BufferTTL atomically with each append.
type BufferStore interface {
	// Append pushes a serialized envelope to the head of the channel's list.
	Append(ctx context.Context, channelID string, raw []byte) error

	// Since returns raw entries with a timestamp strictly newer than since,
	// oldest first. An expired or trimmed-away window yields an empty slice.
	Since(ctx context.Context, channelID string, since time.Time) ([][]byte, error)
}

// PresenceStore persists ephemeral typing state per channel.
type PresenceStore interface {
	// SetTyping upserts the user's entry and refreshes the channel's
	// PresenceTTL expiry.
	SetTyping(ctx context.Context, channelID string, entry chat.TypingEntry) error

	// ClearTyping removes the user's entry.
	ClearTyping(ctx context.Context, channelID string, userID int64) error

	// ListTyping returns all stored entries, stale ones included; callers
	// filter by chat.TypingStaleAfter.
	ListTyping(ctx context.Context, channelID string) ([]chat.TypingEntry, error)
}

// EventBuffer is the server-side fan-out pipeline: every published envelope
// is stamped, stored in the BufferStore for reconnect catch-up, and fanned
// out through the live Channel.
type EventBuffer struct {
	store BufferStore
	live  Channel
	log   *zerolog.Logger
	seq   atomic.Int64
	now   func() time.Time
}

// NewEventBuffer builds the pipeline over a store and a live channel.
func NewEventBuffer(store BufferStore, live Channel, logger *zerolog.Logger) *EventBuffer {
	return NewEventBufferWithClock(store, live, logger, time.Now)
}

// NewEventBufferWithClock is NewEventBuffer with an injected clock.
func NewEventBufferWithClock(store BufferStore, live Channel, logger *zerolog.Logger, now func() time.Time) *EventBuffer {
	return &EventBuffer{
		store: store,
		live:  live,
		log:   logger,
		now:   now,
	}
}

// Publish stamps the envelope, buffers it and fans it out. A buffer write
// failure is logged and swallowed: live delivery still happens, and loss of
// the catch-up window is within the bounded-loss policy.
func (b *EventBuffer) Publish(ctx context.Context, env chat.Envelope) error {
	env.Timestamp = b.now().UTC()
	env.Sequence = b.seq.Add(1)

	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	if err := b.store.Append(ctx, env.ChannelID, raw); err != nil {
		b.log.Warn().Err(err).Str("channel", env.ChannelID).Msg("buffer append failed")
	}

	metrics.EventsPublished.WithLabelValues(string(env.Type)).Inc()
	return b.live.Publish(ctx, env)
}

// Subscribe proxies to the live channel.
func (b *EventBuffer) Subscribe(channelID string, handler Handler) func() {
	return b.live.Subscribe(channelID, handler)
}

// CatchUp returns buffered envelopes newer than since, oldest first. An
// empty result after a disconnect longer than BufferTTL means the window is
// gone; the caller must fall back to a full page fetch.
func (b *EventBuffer) CatchUp(ctx context.Context, channelID string, since time.Time) ([]chat.Envelope, error) {
	raws, err := b.store.Since(ctx, channelID, since)
	if err != nil {
		return nil, fmt.Errorf("read buffer: %w", err)
	}
	if len(raws) == 0 {
		metrics.CatchUpEmpty.Inc()
		return nil, nil
	}

	envs := make([]chat.Envelope, 0, len(raws))
	for _, raw := range raws {
		var env chat.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			b.log.Warn().Err(err).Str("channel", channelID).Msg("skipping undecodable buffered event")
			continue
		}
		envs = append(envs, env)
	}
	return envs, nil
}
