package client

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gunko23/film-collective-sub003/internal/chat"
	"github.com/gunko23/film-collective-sub003/internal/metrics"
	"github.com/gunko23/film-collective-sub003/internal/realtime"
)

// State is the stream connection state.
type State int

const (
	Disconnected State = iota
	Connecting
	Open
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	default:
		return "disconnected"
	}
}

const (
	baseBackoff = time.Second
	maxBackoff  = 30 * time.Second
)

// Conn is a live event connection. Recv blocks until the next envelope or
// a transport error; Close tears the connection down.
type Conn interface {
	Recv() (chat.Envelope, error)
	Close() error
}

// Dialer opens a live connection. A non-zero since asks the server to
// replay buffered events after that instant before going live.
// Implementations exist for the NDJSON stream endpoint and the websocket
// endpoint.
type Dialer interface {
	Dial(ctx context.Context, since time.Time) (Conn, error)
}

// Stream keeps one live connection alive across drops: exponential backoff
// on errors, immediate retry when the tab becomes visible again, clean
// teardown with no dangling timers. Reconnects resume from the newest
// server timestamp seen, so the buffered window fills short gaps.
type Stream struct {
	dialer  Dialer
	handler EventHandler
	log     *zerolog.Logger

	mu        sync.Mutex
	state     State
	attempts  int
	timer     *time.Timer
	conn      Conn
	closed    bool
	lastEvent time.Time

	wake  chan struct{}
	done  chan struct{}
	wg    sync.WaitGroup
	sleep func(d time.Duration, cancel <-chan struct{}) bool
	now   func() time.Time

	// OnGap, when set, is called after a reconnect whose outage outlived
	// the server's buffered window: catch-up cannot fill the gap, so the
	// caller should reload history (fetch a fresh page and reset the log).
	OnGap func()
}

// EventHandler consumes envelopes received on the stream.
type EventHandler func(env chat.Envelope)

// NewStream builds a stream manager; Run must be called to start it.
func NewStream(dialer Dialer, handler EventHandler, logger *zerolog.Logger) *Stream {
	s := &Stream{
		dialer:  dialer,
		handler: handler,
		log:     logger,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	s.sleep = s.waitBackoff
	return s
}

// State reports the current connection state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Backoff returns the delay before the next reconnect attempt:
// min(1s << attempts, 30s).
func Backoff(attempts int) time.Duration {
	if attempts >= 5 {
		return maxBackoff
	}
	d := baseBackoff << attempts
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// Run drives the connect loop until ctx is cancelled or Close is called.
func (s *Stream) Run(ctx context.Context) {
	s.wg.Add(1)
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		default:
		}

		s.setState(Connecting)
		since := s.lastEventTime()
		conn, err := s.dialer.Dial(ctx, since)
		if err != nil {
			s.log.Warn().Err(err).Int("attempts", s.attemptCount()).Msg("stream dial failed")
			if !s.backoff(ctx) {
				return
			}
			continue
		}

		s.adopt(conn)
		s.setState(Open)
		s.resetAttempts()
		s.log.Debug().Msg("stream open")
		if !since.IsZero() && s.now().Sub(since) > realtime.BufferTTL && s.OnGap != nil {
			// The outage outlived the server's retention window, so the
			// catch-up replay cannot cover it.
			s.log.Info().Time("since", since).Msg("catch-up window expired, reloading history")
			s.OnGap()
		}

		readErr := s.readLoop(ctx, conn)
		s.dropConn()
		s.setState(Disconnected)
		if readErr == context.Canceled {
			return
		}
		if !s.backoff(ctx) {
			return
		}
	}
}

// WakeUp forces an immediate reconnect attempt, bypassing any pending
// backoff timer. Called when the browser tab becomes visible again.
func (s *Stream) WakeUp() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Close tears down the active connection and cancels pending reconnects.
func (s *Stream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	s.wg.Wait()
}

func (s *Stream) readLoop(ctx context.Context, conn Conn) error {
	for {
		env, err := conn.Recv()
		if err != nil {
			select {
			case <-ctx.Done():
				return context.Canceled
			case <-s.done:
				return context.Canceled
			default:
			}
			s.log.Warn().Err(err).Msg("stream read error")
			return err
		}
		s.markEvent(env.Timestamp)
		s.handler(env)
	}
}

// backoff waits for the current backoff delay, a wake-up, or shutdown.
// Returns false when the stream should stop.
func (s *Stream) backoff(ctx context.Context) bool {
	delay := Backoff(s.attemptCount())
	s.bumpAttempts()
	metrics.StreamReconnects.Inc()

	// The watcher funnels every early-exit source into cancel. It must not
	// outlive this round: a watcher still parked on s.wake after the sleep
	// elapsed would swallow a wake-up meant for a later backoff.
	cancel := make(chan struct{})
	elapsed := make(chan struct{})
	stop := sync.OnceFunc(func() { close(cancel) })
	go func() {
		select {
		case <-ctx.Done():
		case <-s.done:
		case <-s.wake:
		case <-elapsed:
		}
		stop()
	}()

	s.sleep(delay, cancel)
	close(elapsed)

	select {
	case <-ctx.Done():
		return false
	case <-s.done:
		return false
	default:
	}
	return true
}

// waitBackoff sleeps for d unless cancelled early. Reports whether the
// sleep was cut short.
func (s *Stream) waitBackoff(d time.Duration, cancel <-chan struct{}) bool {
	timer := time.NewTimer(d)
	s.mu.Lock()
	s.timer = timer
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.timer = nil
		s.mu.Unlock()
		timer.Stop()
	}()

	select {
	case <-timer.C:
		return false
	case <-cancel:
		return true
	}
}

func (s *Stream) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Stream) adopt(conn Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

func (s *Stream) dropConn() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (s *Stream) lastEventTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastEvent
}

// markEvent advances the resume cursor to the newest server timestamp seen.
func (s *Stream) markEvent(ts time.Time) {
	if ts.IsZero() {
		return
	}
	s.mu.Lock()
	if ts.After(s.lastEvent) {
		s.lastEvent = ts
	}
	s.mu.Unlock()
}

func (s *Stream) attemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *Stream) bumpAttempts() {
	s.mu.Lock()
	s.attempts++
	s.mu.Unlock()
}

func (s *Stream) resetAttempts() {
	s.mu.Lock()
	s.attempts = 0
	s.mu.Unlock()
}
