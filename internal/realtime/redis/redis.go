// Package redis implements the realtime buffer and presence stores on a
// Redis instance: one LIST per channel as a trimmed ring buffer, one HASH
// per channel for typing state. All keys carry short TTLs; correctness
// relies on expiry and idempotent upserts, not locks.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gunko23/film-collective-sub003/internal/chat"
	"github.com/gunko23/film-collective-sub003/internal/realtime"
)

// Settings configures the Redis connection.
type Settings struct {
	Addr     string        `mapstructure:"addr" yaml:"addr"`
	Password string        `mapstructure:"password" yaml:"password"`
	DB       int           `mapstructure:"db" yaml:"db"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Store implements realtime.BufferStore and realtime.PresenceStore.
type Store struct {
	cli *redis.Client
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Settings) (*Store, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis: missing addr")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}

	cli := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})
	if err := cli.Ping(ctx).Err(); err != nil {
		cli.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Store{cli: cli}, nil
}

// Close closes the client.
func (s *Store) Close() error { return s.cli.Close() }

func bufferKey(channelID string) string {
	return "chat:events:" + channelID
}

func typingKey(channelID string) string {
	return "chat:typing:" + channelID
}

// Append pushes raw to the head of the channel's list, trims to the
// retention window and refreshes the TTL. The three commands run in one
// MULTI/EXEC so a crash cannot leave the key untrimmed or without expiry.
func (s *Store) Append(ctx context.Context, channelID string, raw []byte) error {
	key := bufferKey(channelID)
	pipe := s.cli.TxPipeline()
	pipe.LPush(ctx, key, raw)
	pipe.LTrim(ctx, key, 0, realtime.BufferMaxEntries-1)
	pipe.Expire(ctx, key, realtime.BufferTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Since reads the buffered list and returns entries newer than since,
// oldest first. The list is newest-first, so a prefix scan stops at the
// first entry at or before the cursor.
func (s *Store) Since(ctx context.Context, channelID string, since time.Time) ([][]byte, error) {
	vals, err := s.cli.LRange(ctx, bufferKey(channelID), 0, realtime.BufferMaxEntries-1).Result()
	if err != nil {
		return nil, fmt.Errorf("range events: %w", err)
	}

	var newer [][]byte
	for _, v := range vals {
		var stamp struct {
			Timestamp time.Time `json:"timestamp"`
		}
		if err := json.Unmarshal([]byte(v), &stamp); err != nil {
			continue
		}
		if !stamp.Timestamp.After(since) {
			break
		}
		newer = append(newer, []byte(v))
	}

	// Reverse to oldest-first.
	for i, j := 0, len(newer)-1; i < j; i, j = i+1, j-1 {
		newer[i], newer[j] = newer[j], newer[i]
	}
	return newer, nil
}

// SetTyping upserts the user's hash field and refreshes the key expiry.
func (s *Store) SetTyping(ctx context.Context, channelID string, entry chat.TypingEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode typing entry: %w", err)
	}

	key := typingKey(channelID)
	pipe := s.cli.TxPipeline()
	pipe.HSet(ctx, key, fmt.Sprintf("%d", entry.UserID), raw)
	pipe.Expire(ctx, key, realtime.PresenceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set typing: %w", err)
	}
	return nil
}

// ClearTyping removes the user's hash field.
func (s *Store) ClearTyping(ctx context.Context, channelID string, userID int64) error {
	if err := s.cli.HDel(ctx, typingKey(channelID), fmt.Sprintf("%d", userID)).Err(); err != nil {
		return fmt.Errorf("clear typing: %w", err)
	}
	return nil
}

// ListTyping returns every stored entry for the channel, stale included.
func (s *Store) ListTyping(ctx context.Context, channelID string) ([]chat.TypingEntry, error) {
	vals, err := s.cli.HGetAll(ctx, typingKey(channelID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list typing: %w", err)
	}

	entries := make([]chat.TypingEntry, 0, len(vals))
	for _, v := range vals {
		var entry chat.TypingEntry
		if err := json.Unmarshal([]byte(v), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
