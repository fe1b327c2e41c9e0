// Package memory implements the realtime buffer and presence stores in
// process memory with the same trim and expiry semantics as the Redis
// backend. It backs single-node deployments without Redis and every test
// that needs an injectable fake.
package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gunko23/film-collective-sub003/internal/chat"
	"github.com/gunko23/film-collective-sub003/internal/realtime"
)

type bufferEntry struct {
	raw       []byte
	timestamp time.Time
}

// Store implements realtime.BufferStore and realtime.PresenceStore in
// memory. The clock is injectable so tests can drive expiry.
type Store struct {
	mu      sync.Mutex
	events  map[string][]bufferEntry // newest first
	touched map[string]time.Time
	typing  map[string]map[int64]chat.TypingEntry
	typedAt map[string]time.Time
	now     func() time.Time
}

// New builds an empty store using the wall clock.
func New() *Store {
	return NewWithClock(time.Now)
}

// NewWithClock builds an empty store with an injected clock.
func NewWithClock(now func() time.Time) *Store {
	return &Store{
		events:  make(map[string][]bufferEntry),
		touched: make(map[string]time.Time),
		typing:  make(map[string]map[int64]chat.TypingEntry),
		typedAt: make(map[string]time.Time),
		now:     now,
	}
}

// Append pushes raw to the head of the channel's window, trims and marks
// the key as touched.
func (s *Store) Append(_ context.Context, channelID string, raw []byte) error {
	var stamp struct {
		Timestamp time.Time `json:"timestamp"`
	}
	_ = json.Unmarshal(raw, &stamp)

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := append([]bufferEntry{{raw: raw, timestamp: stamp.Timestamp}}, s.events[channelID]...)
	if len(entries) > realtime.BufferMaxEntries {
		entries = entries[:realtime.BufferMaxEntries]
	}
	s.events[channelID] = entries
	s.touched[channelID] = s.now()
	return nil
}

// Since returns entries newer than since, oldest first. A window idle
// longer than BufferTTL behaves as expired and yields nothing.
func (s *Store) Since(_ context.Context, channelID string, since time.Time) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	touched, ok := s.touched[channelID]
	if !ok || s.now().Sub(touched) >= realtime.BufferTTL {
		delete(s.events, channelID)
		delete(s.touched, channelID)
		return nil, nil
	}

	var newer [][]byte
	for _, e := range s.events[channelID] {
		if !e.timestamp.After(since) {
			break
		}
		newer = append(newer, e.raw)
	}
	for i, j := 0, len(newer)-1; i < j; i, j = i+1, j-1 {
		newer[i], newer[j] = newer[j], newer[i]
	}
	return newer, nil
}

// SetTyping upserts the user's entry and refreshes the channel expiry.
func (s *Store) SetTyping(_ context.Context, channelID string, entry chat.TypingEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.typing[channelID] == nil {
		s.typing[channelID] = make(map[int64]chat.TypingEntry)
	}
	s.typing[channelID][entry.UserID] = entry
	s.typedAt[channelID] = s.now()
	return nil
}

// ClearTyping removes the user's entry.
func (s *Store) ClearTyping(_ context.Context, channelID string, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.typing[channelID], userID)
	return nil
}

// ListTyping returns the channel's entries, stale included, unless the
// whole key has passed its coarse PresenceTTL.
func (s *Store) ListTyping(_ context.Context, channelID string) ([]chat.TypingEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	typedAt, ok := s.typedAt[channelID]
	if !ok || s.now().Sub(typedAt) >= realtime.PresenceTTL {
		delete(s.typing, channelID)
		delete(s.typedAt, channelID)
		return nil, nil
	}

	entries := make([]chat.TypingEntry, 0, len(s.typing[channelID]))
	for _, e := range s.typing[channelID] {
		entries = append(entries, e)
	}
	return entries, nil
}
