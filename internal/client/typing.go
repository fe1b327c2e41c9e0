package client

import (
	"context"
	"sync"
	"time"

	"github.com/gunko23/film-collective-sub003/internal/chat"
)

const (
	// typingThrottle limits how often ExtendTyping reaches the server.
	typingThrottle = 2 * time.Second
	// typingIdle is how long after the last keystroke the reporter
	// auto-stops.
	typingIdle = chat.TypingStaleAfter
)

// TypingSink is the server side of typing reports.
type TypingSink interface {
	SetTyping(ctx context.Context, channelID string) error
	StopTyping(ctx context.Context, channelID string) error
}

// TypingReporter debounces per-keystroke typing signals: it forwards at
// most one refresh per throttle window and auto-stops after five seconds
// of silence or immediately on send.
type TypingReporter struct {
	sink      TypingSink
	channelID string

	mu        sync.Mutex
	lastSent  time.Time
	idle      *time.Timer
	stopped   bool
	now       func() time.Time
	idleAfter time.Duration
}

// NewTypingReporter builds a reporter for one channel.
func NewTypingReporter(sink TypingSink, channelID string) *TypingReporter {
	return &TypingReporter{
		sink:      sink,
		channelID: channelID,
		now:       time.Now,
		idleAfter: typingIdle,
	}
}

// ExtendTyping is called on every keystroke. The server sees at most one
// refresh per throttle window; the idle timer restarts every call.
func (r *TypingReporter) ExtendTyping(ctx context.Context) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}

	send := r.now().Sub(r.lastSent) >= typingThrottle
	if send {
		r.lastSent = r.now()
	}

	if r.idle != nil {
		r.idle.Stop()
	}
	r.idle = time.AfterFunc(r.idleAfter, func() { r.Stop(context.Background()) })
	r.mu.Unlock()

	if send {
		// Errors are not surfaced: typing indicators are best-effort.
		_ = r.sink.SetTyping(ctx, r.channelID)
	}
}

// Stop clears the indicator immediately; called on send or teardown.
func (r *TypingReporter) Stop(ctx context.Context) {
	r.mu.Lock()
	if r.idle != nil {
		r.idle.Stop()
		r.idle = nil
	}
	hadSent := !r.lastSent.IsZero()
	r.lastSent = time.Time{}
	r.mu.Unlock()

	if hadSent {
		_ = r.sink.StopTyping(ctx, r.channelID)
	}
}

// Close permanently disables the reporter and clears any live indicator.
func (r *TypingReporter) Close(ctx context.Context) {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
	r.Stop(ctx)
}
