package client

import (
	"context"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu    sync.Mutex
	sets  int
	stops int
}

func (s *recordingSink) SetTyping(context.Context, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets++
	return nil
}

func (s *recordingSink) StopTyping(context.Context, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	return nil
}

func (s *recordingSink) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets, s.stops
}

func TestTypingThrottlesRefreshes(t *testing.T) {
	sink := &recordingSink{}
	r := NewTypingReporter(sink, "discussion:42")

	now := time.Unix(1000, 0)
	r.now = func() time.Time { return now }

	ctx := context.Background()
	defer r.Close(ctx)

	// A burst of keystrokes within the throttle window sends once.
	for i := 0; i < 5; i++ {
		r.ExtendTyping(ctx)
		now = now.Add(200 * time.Millisecond)
	}
	if sets, _ := sink.counts(); sets != 1 {
		t.Fatalf("got %d refreshes for a burst, want 1", sets)
	}

	// Past the window the next keystroke refreshes again.
	now = now.Add(typingThrottle)
	r.ExtendTyping(ctx)
	if sets, _ := sink.counts(); sets != 2 {
		t.Fatalf("got %d refreshes after throttle window, want 2", sets)
	}
}

func TestTypingAutoStopsWhenIdle(t *testing.T) {
	sink := &recordingSink{}
	r := NewTypingReporter(sink, "movie:7")
	r.idleAfter = 20 * time.Millisecond

	ctx := context.Background()
	r.ExtendTyping(ctx)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, stops := sink.counts(); stops == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, stops := sink.counts(); stops != 1 {
		t.Fatalf("got %d stops after idle, want 1", stops)
	}

	// Nothing live anymore; a second Stop is a no-op.
	r.Stop(ctx)
	if _, stops := sink.counts(); stops != 1 {
		t.Fatalf("redundant Stop reached the server, stops = %d", stops)
	}
}

func TestTypingKeystrokeRestartsIdleTimer(t *testing.T) {
	sink := &recordingSink{}
	r := NewTypingReporter(sink, "feed:3")
	r.idleAfter = 60 * time.Millisecond

	ctx := context.Background()
	defer r.Close(ctx)

	// Keep typing faster than the idle window; no auto-stop fires.
	for i := 0; i < 5; i++ {
		r.ExtendTyping(ctx)
		time.Sleep(20 * time.Millisecond)
	}
	if _, stops := sink.counts(); stops != 0 {
		t.Fatalf("auto-stop fired while still typing, stops = %d", stops)
	}
}

func TestTypingStopOnSendIsImmediate(t *testing.T) {
	sink := &recordingSink{}
	r := NewTypingReporter(sink, "discussion:1")

	ctx := context.Background()
	r.ExtendTyping(ctx)
	r.Stop(ctx)

	if sets, stops := sink.counts(); sets != 1 || stops != 1 {
		t.Fatalf("got sets=%d stops=%d, want 1/1", sets, stops)
	}

	// Closed reporters ignore further keystrokes.
	r.Close(ctx)
	r.ExtendTyping(ctx)
	if sets, _ := sink.counts(); sets != 1 {
		t.Fatalf("keystroke after Close reached the server, sets = %d", sets)
	}
}
