package chat

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEnvelopeRoundTripTagged(t *testing.T) {
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

	env := Envelope{
		Type:      EventReaction,
		ChannelID: "discussion:42",
		Timestamp: now,
		Sequence:  7,
		Reaction: &ReactionEvent{
			MessageID: "m1",
			UserID:    9,
			Type:      ReactionFire,
			Action:    "added",
		},
	}

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got Envelope
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got.Type != EventReaction || got.ChannelID != "discussion:42" || got.Sequence != 7 {
		t.Fatalf("envelope header mismatch: %+v", got)
	}
	if got.Reaction == nil {
		t.Fatal("expected reaction payload")
	}
	if got.NewMessage != nil || got.Typing != nil {
		t.Fatal("only one payload should be set")
	}
	if got.Reaction.MessageID != "m1" || got.Reaction.Action != "added" || got.Reaction.Type != ReactionFire {
		t.Fatalf("reaction payload mismatch: %+v", got.Reaction)
	}
}

func TestEnvelopeUnknownTypeIsNoOp(t *testing.T) {
	raw := `{"type":"server_maintenance","channel_id":"discussion:1","timestamp":"2025-03-14T12:00:00Z","payload":{"anything":true}}`

	var got Envelope
	if err := json.Unmarshal([]byte(raw), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.NewMessage != nil || got.Typing != nil || got.Reaction != nil {
		t.Fatalf("unknown event type must decode with nil payloads: %+v", got)
	}
	if got.Type != "server_maintenance" {
		t.Fatalf("type should be preserved, got %q", got.Type)
	}
}

func TestMessageValidate(t *testing.T) {
	tests := []struct {
		name    string
		content string
		gifURL  string
		wantErr bool
	}{
		{"text only", "loved this movie", "", false},
		{"gif only", "", "https://media.example/popcorn.gif", false},
		{"both", "🔥", "https://media.example/fire.gif", false},
		{"neither", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Message{Content: tt.content, GifURL: tt.gifURL}
			err := m.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestReactionTypeValid(t *testing.T) {
	if !ReactionPopcorn.Valid() {
		t.Error("🍿 should be a valid reaction")
	}
	if ReactionType("🤖").Valid() {
		t.Error("robot is not part of the reaction set")
	}
}

func TestTypingEntryStale(t *testing.T) {
	now := time.Now()
	fresh := TypingEntry{UpdatedAt: now.Add(-4 * time.Second)}
	stale := TypingEntry{UpdatedAt: now.Add(-5 * time.Second)}

	if fresh.Stale(now) {
		t.Error("entry refreshed 4s ago should still be visible")
	}
	if !stale.Stale(now) {
		t.Error("entry refreshed 5s ago should be stale")
	}
}
