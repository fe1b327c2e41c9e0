package realtime

import (
	"context"
	"sync"

	"github.com/gunko23/film-collective-sub003/internal/chat"
)

// Handler consumes envelopes delivered on a subscribed channel.
type Handler func(env chat.Envelope)

// Channel is a named, logical pub/sub channel. Both backends (the
// in-process hub feeding push transports and the Redis-backed buffer
// drained over a stream) satisfy the same contract: at-least-once,
// order-preserving delivery per channel to connected subscribers.
type Channel interface {
	// Publish fans an envelope out to every subscriber of its channel id.
	Publish(ctx context.Context, env chat.Envelope) error

	// Subscribe registers a handler for a channel id and returns an
	// unsubscribe function. Handlers must not block.
	Subscribe(channelID string, handler Handler) (unsubscribe func())
}

// Hub is an in-memory fan-out dispatcher. Each subscriber receives events
// on its own buffered channel; if the buffer is full the event is dropped
// for that subscriber only, so one slow consumer never stalls delivery.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[int64]chan chat.Envelope
	nextID int64
	buf    int

	done chan struct{}
	wg   sync.WaitGroup
}

// NewHub constructs a hub with the given per-subscriber buffer size.
func NewHub(bufSize int) *Hub {
	if bufSize <= 0 {
		bufSize = 32
	}
	return &Hub{
		subs: make(map[string]map[int64]chan chat.Envelope),
		buf:  bufSize,
		done: make(chan struct{}),
	}
}

// Publish delivers env to every current subscriber of env.ChannelID.
func (h *Hub) Publish(_ context.Context, env chat.Envelope) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subs[env.ChannelID] {
		select {
		case ch <- env:
		default:
			// Drop if slow consumer.
		}
	}
	return nil
}

// Subscribe registers a handler and starts a drain goroutine for it.
func (h *Hub) Subscribe(channelID string, handler Handler) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	ch := make(chan chat.Envelope, h.buf)
	if h.subs[channelID] == nil {
		h.subs[channelID] = make(map[int64]chan chat.Envelope)
	}
	h.subs[channelID][id] = ch
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case env, ok := <-ch:
				if !ok {
					return
				}
				handler(env)
			case <-h.done:
				return
			}
		}
	}()

	return func() {
		h.mu.Lock()
		if subs, ok := h.subs[channelID]; ok {
			if c, ok := subs[id]; ok {
				delete(subs, id)
				close(c)
			}
			if len(subs) == 0 {
				delete(h.subs, channelID)
			}
		}
		h.mu.Unlock()
	}
}

// Close stops all drain goroutines. Subscribed handlers receive nothing
// afterwards.
func (h *Hub) Close() {
	close(h.done)
	h.wg.Wait()
}
