package messages

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/gunko23/film-collective-sub003/internal/chat"
	"github.com/gunko23/film-collective-sub003/internal/realtime"
	"github.com/gunko23/film-collective-sub003/internal/realtime/memory"
	"github.com/gunko23/film-collective-sub003/internal/store/sqlite"
)

type allowAll struct{}

func (allowAll) IsMember(context.Context, int64, string) (bool, error) { return true, nil }

type denyAll struct{}

func (denyAll) IsMember(context.Context, int64, string) (bool, error) { return false, nil }

type staticIdentity map[int64]string

func (m staticIdentity) Resolve(_ context.Context, userID int64) (Identity, error) {
	name, ok := m[userID]
	if !ok {
		return Identity{}, errors.New("unknown user")
	}
	return Identity{Name: name}, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *recordingNotifier) NotifyNewMessage(channelID string, _ *chat.Message) {
	n.mu.Lock()
	n.calls = append(n.calls, channelID)
	n.mu.Unlock()
}

type fixture struct {
	svc   *Service
	buf   *realtime.EventBuffer
	now   *time.Time
	notes *recordingNotifier
}

func newFixture(t *testing.T, membership MembershipChecker) *fixture {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	hub := realtime.NewHub(8)
	t.Cleanup(hub.Close)
	logger := zerolog.New(nil)
	buf := realtime.NewEventBufferWithClock(memory.NewWithClock(clock), hub, &logger, clock)

	notes := &recordingNotifier{}
	svc := New(st, buf, membership, staticIdentity{1: "ana", 2: "ben"}, notes, &logger)
	svc.now = clock

	return &fixture{svc: svc, buf: buf, now: &now, notes: notes}
}

func (f *fixture) advance(d time.Duration) { *f.now = f.now.Add(d) }

func TestSendValidatesAndEchoesClientToken(t *testing.T) {
	f := newFixture(t, allowAll{})
	ctx := context.Background()

	msg, err := f.svc.Send(ctx, SendParams{
		ChannelID:   "discussion:1",
		AuthorID:    1,
		Content:     "anyone seen Stalker?",
		ClientToken: "tok-123",
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if msg.ID == "" {
		t.Fatal("server must assign an id")
	}
	if msg.ClientToken != "tok-123" {
		t.Fatalf("client token must be echoed back, got %q", msg.ClientToken)
	}
	if msg.AuthorName != "ana" {
		t.Fatalf("expected resolved author name, got %q", msg.AuthorName)
	}

	// Neither text nor gif is rejected.
	_, err = f.svc.Send(ctx, SendParams{ChannelID: "discussion:1", AuthorID: 1})
	if !errors.Is(err, chat.ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}

	// Gif-only is allowed.
	if _, err := f.svc.Send(ctx, SendParams{
		ChannelID: "discussion:1",
		AuthorID:  1,
		GifURL:    "https://media.example/popcorn.gif",
	}); err != nil {
		t.Fatalf("gif-only send failed: %v", err)
	}
}

func TestSendRejectsNonMembers(t *testing.T) {
	f := newFixture(t, denyAll{})

	_, err := f.svc.Send(context.Background(), SendParams{
		ChannelID: "discussion:1",
		AuthorID:  1,
		Content:   "hi",
	})
	if !errors.Is(err, ErrNotMember) {
		t.Fatalf("expected ErrNotMember, got %v", err)
	}
}

func TestSendPublishesAndBuffers(t *testing.T) {
	f := newFixture(t, allowAll{})
	ctx := context.Background()

	received := make(chan chat.Envelope, 1)
	unsub := f.buf.Subscribe("discussion:1", func(env chat.Envelope) { received <- env })
	defer unsub()

	sent, err := f.svc.Send(ctx, SendParams{ChannelID: "discussion:1", AuthorID: 1, Content: "hi"})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case env := <-received:
		if env.Type != chat.EventNewMessage || env.NewMessage == nil {
			t.Fatalf("unexpected envelope: %+v", env)
		}
		if env.NewMessage.Message.ID != sent.ID {
			t.Fatal("fanned-out message id mismatch")
		}
	case <-time.After(time.Second):
		t.Fatal("no live fan-out")
	}

	envs, err := f.buf.CatchUp(ctx, "discussion:1", time.Time{})
	if err != nil {
		t.Fatalf("CatchUp failed: %v", err)
	}
	if len(envs) != 1 {
		t.Fatalf("expected 1 buffered envelope, got %d", len(envs))
	}
}

func TestToggleReactionIdempotent(t *testing.T) {
	f := newFixture(t, allowAll{})
	ctx := context.Background()

	msg, err := f.svc.Send(ctx, SendParams{ChannelID: "movie:5", AuthorID: 1, Content: "what a shot"})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	res, err := f.svc.ToggleReaction(ctx, msg.ID, 2, chat.ReactionFire)
	if err != nil {
		t.Fatalf("first toggle failed: %v", err)
	}
	if res.Action != "added" {
		t.Fatalf("expected added, got %s", res.Action)
	}

	res, err = f.svc.ToggleReaction(ctx, msg.ID, 2, chat.ReactionFire)
	if err != nil {
		t.Fatalf("second toggle failed: %v", err)
	}
	if res.Action != "removed" {
		t.Fatalf("expected removed, got %s", res.Action)
	}

	// Back to the original state: reaction list is empty again.
	page, err := f.svc.FetchPage(ctx, FetchPageParams{ChannelID: "movie:5", UserID: 1})
	if err != nil {
		t.Fatalf("FetchPage failed: %v", err)
	}
	if len(page.Reactions[msg.ID]) != 0 {
		t.Fatalf("expected no reactions after double toggle, got %+v", page.Reactions[msg.ID])
	}

	if _, err := f.svc.ToggleReaction(ctx, msg.ID, 2, chat.ReactionType("🤖")); !errors.Is(err, ErrInvalidReaction) {
		t.Fatalf("expected ErrInvalidReaction, got %v", err)
	}
}

func TestFetchPageChronologicalWithCursor(t *testing.T) {
	f := newFixture(t, allowAll{})
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		msg, err := f.svc.Send(ctx, SendParams{ChannelID: "discussion:9", AuthorID: 1, Content: "msg"})
		if err != nil {
			t.Fatalf("Send failed: %v", err)
		}
		ids = append(ids, msg.ID)
		f.advance(time.Minute)
	}

	// Latest page of 2: the two newest, chronological.
	page, err := f.svc.FetchPage(ctx, FetchPageParams{ChannelID: "discussion:9", UserID: 1, Limit: 2})
	if err != nil {
		t.Fatalf("FetchPage failed: %v", err)
	}
	if len(page.Messages) != 2 || !page.HasMore {
		t.Fatalf("expected full page with more, got %d hasMore=%v", len(page.Messages), page.HasMore)
	}
	if page.Messages[0].ID != ids[3] || page.Messages[1].ID != ids[4] {
		t.Fatal("latest page should hold the two newest messages in order")
	}

	// Anchored on the oldest of that page.
	page, err = f.svc.FetchPage(ctx, FetchPageParams{ChannelID: "discussion:9", UserID: 1, Before: ids[3], Limit: 10})
	if err != nil {
		t.Fatalf("anchored FetchPage failed: %v", err)
	}
	if len(page.Messages) != 3 || page.HasMore {
		t.Fatalf("expected 3 older messages without more, got %d hasMore=%v", len(page.Messages), page.HasMore)
	}
	for i := 1; i < len(page.Messages); i++ {
		if page.Messages[i].CreatedAt.Before(page.Messages[i-1].CreatedAt) {
			t.Fatal("page must be chronological")
		}
	}
}

func TestFetchSinceAdvancesCursor(t *testing.T) {
	f := newFixture(t, allowAll{})
	ctx := context.Background()

	start := *f.now
	for i := 0; i < 3; i++ {
		f.advance(time.Second)
		if _, err := f.svc.Send(ctx, SendParams{ChannelID: "feed:2", AuthorID: 1, Content: "msg"}); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}

	page, err := f.svc.FetchSince(ctx, "feed:2", 1, start, 10)
	if err != nil {
		t.Fatalf("FetchSince failed: %v", err)
	}
	if len(page.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(page.Messages))
	}
	want := page.Messages[2].CreatedAt
	if !page.NextCursor.Equal(want) {
		t.Fatalf("cursor should advance to last CreatedAt, got %v want %v", page.NextCursor, want)
	}

	// Nothing new: cursor stays put.
	page, err = f.svc.FetchSince(ctx, "feed:2", 1, want, 10)
	if err != nil {
		t.Fatalf("empty FetchSince failed: %v", err)
	}
	if len(page.Messages) != 0 || !page.NextCursor.Equal(want) {
		t.Fatalf("expected empty page with unchanged cursor, got %d at %v", len(page.Messages), page.NextCursor)
	}
}

func TestLimitClamp(t *testing.T) {
	if got := clampLimit(0); got != DefaultPageSize {
		t.Errorf("clampLimit(0) = %d, want %d", got, DefaultPageSize)
	}
	if got := clampLimit(500); got != MaxPageSize {
		t.Errorf("clampLimit(500) = %d, want %d", got, MaxPageSize)
	}
	if got := clampLimit(7); got != 7 {
		t.Errorf("clampLimit(7) = %d, want 7", got)
	}
}

func TestEditAndDeleteAuthorOnly(t *testing.T) {
	f := newFixture(t, allowAll{})
	ctx := context.Background()

	msg, err := f.svc.Send(ctx, SendParams{ChannelID: "discussion:1", AuthorID: 1, Content: "typo"})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if _, err := f.svc.Edit(ctx, msg.ID, 2, "hijack"); !errors.Is(err, ErrNotAuthor) {
		t.Fatalf("expected ErrNotAuthor, got %v", err)
	}

	f.advance(time.Minute)
	edited, err := f.svc.Edit(ctx, msg.ID, 1, "fixed")
	if err != nil {
		t.Fatalf("Edit failed: %v", err)
	}
	if edited.Content != "fixed" || !edited.IsEdited {
		t.Fatalf("edit not applied: %+v", edited)
	}
	if !edited.CreatedAt.Equal(msg.CreatedAt) {
		t.Fatal("CreatedAt must not change on edit")
	}

	if err := f.svc.Delete(ctx, msg.ID, 2); !errors.Is(err, ErrNotAuthor) {
		t.Fatalf("expected ErrNotAuthor on delete, got %v", err)
	}
	if err := f.svc.Delete(ctx, msg.ID, 1); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
}

func TestReplySnapshotResolved(t *testing.T) {
	f := newFixture(t, allowAll{})
	ctx := context.Background()

	parent, err := f.svc.Send(ctx, SendParams{ChannelID: "movie:1", AuthorID: 1, Content: "the long take in episode 3"})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	reply, err := f.svc.Send(ctx, SendParams{
		ChannelID: "movie:1",
		AuthorID:  2,
		Content:   "agreed",
		ReplyToID: parent.ID,
	})
	if err != nil {
		t.Fatalf("reply Send failed: %v", err)
	}
	if reply.ReplyTo == nil || reply.ReplyTo.ID != parent.ID || reply.ReplyTo.AuthorName != "ana" {
		t.Fatalf("reply snapshot not resolved: %+v", reply.ReplyTo)
	}

	// A dangling reply id degrades to no snapshot, not an error.
	orphan, err := f.svc.Send(ctx, SendParams{
		ChannelID: "movie:1",
		AuthorID:  2,
		Content:   "late reply",
		ReplyToID: "gone",
	})
	if err != nil {
		t.Fatalf("orphan reply Send failed: %v", err)
	}
	if orphan.ReplyTo != nil {
		t.Fatalf("dangling reply must yield nil snapshot, got %+v", orphan.ReplyTo)
	}
}

func TestReplyExcerptTruncatesOnRuneBoundary(t *testing.T) {
	f := newFixture(t, allowAll{})
	ctx := context.Background()

	long := strings.Repeat("🍿", replyExcerptLen+10)
	parent, err := f.svc.Send(ctx, SendParams{ChannelID: "movie:1", AuthorID: 1, Content: long})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	reply, err := f.svc.Send(ctx, SendParams{
		ChannelID: "movie:1",
		AuthorID:  2,
		Content:   "which cut?",
		ReplyToID: parent.ID,
	})
	if err != nil {
		t.Fatalf("reply Send failed: %v", err)
	}
	if reply.ReplyTo == nil {
		t.Fatal("reply snapshot not resolved")
	}
	excerpt := reply.ReplyTo.Excerpt
	if !utf8.ValidString(excerpt) {
		t.Fatalf("excerpt is not valid UTF-8: %q", excerpt)
	}
	if n := utf8.RuneCountInString(excerpt); n != replyExcerptLen {
		t.Fatalf("excerpt rune count = %d, want %d", n, replyExcerptLen)
	}
}

func TestMarkReadSwallowsFailures(t *testing.T) {
	f := newFixture(t, allowAll{})
	// Best-effort: no panic, no error surface even with an unknown message.
	f.svc.MarkRead(context.Background(), "discussion:1", 1, "whatever")
}
