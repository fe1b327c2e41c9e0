package http

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/gunko23/film-collective-sub003/internal/auth"
	"github.com/gunko23/film-collective-sub003/internal/presence"
	"github.com/gunko23/film-collective-sub003/internal/realtime"
	"github.com/gunko23/film-collective-sub003/internal/realtime/memory"
	"github.com/gunko23/film-collective-sub003/internal/service/messages"
	"github.com/gunko23/film-collective-sub003/internal/store"
	"github.com/gunko23/film-collective-sub003/internal/store/sqlite"
)

// testMembership admits every user id it was built with, on any channel.
type testMembership struct {
	members map[int64]bool
}

func (m *testMembership) IsMember(_ context.Context, userID int64, _ string) (bool, error) {
	return m.members[userID], nil
}

// testIdentity resolves names as "user-<id>".
type testIdentity struct{}

func (testIdentity) Resolve(_ context.Context, userID int64) (messages.Identity, error) {
	return messages.Identity{Name: fmt.Sprintf("user-%d", userID)}, nil
}

// testEnv is everything a handler test needs: a router over an in-memory
// store, plus the pieces to drive state directly.
type testEnv struct {
	router  *gin.Engine
	store   store.Store
	buffer  *realtime.EventBuffer
	tracker *presence.Tracker
	jwt     *auth.JWTConfig
}

func newTestEnv(t *testing.T, memberIDs ...int64) *testEnv {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := zerolog.New(nil)

	hub := realtime.NewHub(16)
	t.Cleanup(hub.Close)

	backend := memory.New()
	buffer := realtime.NewEventBuffer(backend, hub, &logger)
	tracker := presence.NewTracker(backend)

	members := make(map[int64]bool, len(memberIDs))
	for _, id := range memberIDs {
		members[id] = true
	}
	membership := &testMembership{members: members}

	svc := messages.New(st, buffer, membership, testIdentity{}, nil, &logger)

	jwtCfg := &auth.JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "test",
		Audience: "test",
		TTL:      24 * time.Hour,
	}

	router := NewRouter(Deps{
		Messages:   svc,
		Buffer:     buffer,
		Tracker:    tracker,
		Membership: membership,
		JWT:        jwtCfg,
	}, &logger)

	return &testEnv{
		router:  router,
		store:   st,
		buffer:  buffer,
		tracker: tracker,
		jwt:     jwtCfg,
	}
}

func (e *testEnv) token(t *testing.T, userID int64, username string) string {
	t.Helper()
	token, err := auth.GenerateToken(e.jwt, userID, username)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return token
}
