package realtime_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/gunko23/film-collective-sub003/internal/chat"
	"github.com/gunko23/film-collective-sub003/internal/realtime"
	"github.com/gunko23/film-collective-sub003/internal/realtime/memory"
)

func messageEnvelope(channelID, msgID, content string) chat.Envelope {
	return chat.Envelope{
		Type:      chat.EventNewMessage,
		ChannelID: channelID,
		NewMessage: &chat.NewMessageEvent{
			Message: chat.WireMessage{ID: msgID, ChannelID: channelID, Content: content},
		},
	}
}

func TestHubFanOutPerChannel(t *testing.T) {
	hub := realtime.NewHub(8)
	defer hub.Close()

	var mu sync.Mutex
	var gotA, gotB []chat.Envelope
	done := make(chan struct{}, 2)

	unsubA := hub.Subscribe("discussion:1", func(env chat.Envelope) {
		mu.Lock()
		gotA = append(gotA, env)
		mu.Unlock()
		done <- struct{}{}
	})
	defer unsubA()
	unsubB := hub.Subscribe("discussion:2", func(env chat.Envelope) {
		mu.Lock()
		gotB = append(gotB, env)
		mu.Unlock()
		done <- struct{}{}
	})
	defer unsubB()

	ctx := context.Background()
	if err := hub.Publish(ctx, messageEnvelope("discussion:1", "m1", "only for A")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("subscriber A never received the event")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(gotA) != 1 || gotA[0].NewMessage.Message.ID != "m1" {
		t.Fatalf("subscriber A got %+v", gotA)
	}
	if len(gotB) != 0 {
		t.Fatalf("subscriber B must not see other channels, got %+v", gotB)
	}
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	hub := realtime.NewHub(8)
	defer hub.Close()

	received := make(chan chat.Envelope, 8)
	unsub := hub.Subscribe("feed:1", func(env chat.Envelope) { received <- env })
	unsub()

	if err := hub.Publish(context.Background(), messageEnvelope("feed:1", "m1", "x")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case env := <-received:
		t.Fatalf("unexpected delivery after unsubscribe: %+v", env)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventBufferCatchUpOrderedOldestFirst(t *testing.T) {
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	store := memory.NewWithClock(clock)
	hub := realtime.NewHub(8)
	defer hub.Close()
	logger := zerolog.New(nil)
	buf := realtime.NewEventBufferWithClock(store, hub, &logger, clock)

	ctx := context.Background()
	start := now
	for i, id := range []string{"m1", "m2", "m3"} {
		now = start.Add(time.Duration(i+1) * time.Second)
		if err := buf.Publish(ctx, messageEnvelope("movie:7", id, "msg")); err != nil {
			t.Fatalf("publish %s: %v", id, err)
		}
	}

	envs, err := buf.CatchUp(ctx, "movie:7", start.Add(time.Second))
	if err != nil {
		t.Fatalf("catch up: %v", err)
	}
	if len(envs) != 2 {
		t.Fatalf("expected 2 envelopes newer than cursor, got %d", len(envs))
	}
	if envs[0].NewMessage.Message.ID != "m2" || envs[1].NewMessage.Message.ID != "m3" {
		t.Fatalf("catch-up not oldest-first: %s, %s",
			envs[0].NewMessage.Message.ID, envs[1].NewMessage.Message.ID)
	}
	if envs[0].Sequence >= envs[1].Sequence {
		t.Fatal("sequence numbers must increase")
	}
}

func TestEventBufferTrimsToRetentionWindow(t *testing.T) {
	store := memory.New()
	hub := realtime.NewHub(8)
	defer hub.Close()
	logger := zerolog.New(nil)
	buf := realtime.NewEventBuffer(store, hub, &logger)

	ctx := context.Background()
	for i := 0; i < realtime.BufferMaxEntries+20; i++ {
		if err := buf.Publish(ctx, messageEnvelope("discussion:1", "m", "x")); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	envs, err := buf.CatchUp(ctx, "discussion:1", time.Time{})
	if err != nil {
		t.Fatalf("catch up: %v", err)
	}
	if len(envs) > realtime.BufferMaxEntries {
		t.Fatalf("window must hold at most %d events, got %d", realtime.BufferMaxEntries, len(envs))
	}
}

func TestEventBufferExpiredWindowReturnsEmpty(t *testing.T) {
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	store := memory.NewWithClock(clock)
	hub := realtime.NewHub(8)
	defer hub.Close()
	logger := zerolog.New(nil)
	buf := realtime.NewEventBufferWithClock(store, hub, &logger, clock)

	ctx := context.Background()
	if err := buf.Publish(ctx, messageEnvelope("discussion:1", "m1", "before the drop")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	// Client comes back after a 6-minute disconnect; the buffer key has
	// expired and catch-up must signal a full-refetch fallback.
	now = now.Add(6 * time.Minute)
	envs, err := buf.CatchUp(ctx, "discussion:1", time.Time{})
	if err != nil {
		t.Fatalf("catch up: %v", err)
	}
	if len(envs) != 0 {
		t.Fatalf("expired window must return empty, got %d envelopes", len(envs))
	}
}
