// Package app wires the chat service together: storage, the realtime
// buffer backend, presence, the message service and the HTTP transport.
package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/gunko23/film-collective-sub003/internal/auth"
	"github.com/gunko23/film-collective-sub003/internal/config"
	"github.com/gunko23/film-collective-sub003/internal/platform"
	"github.com/gunko23/film-collective-sub003/internal/presence"
	"github.com/gunko23/film-collective-sub003/internal/realtime"
	"github.com/gunko23/film-collective-sub003/internal/realtime/memory"
	"github.com/gunko23/film-collective-sub003/internal/realtime/redis"
	"github.com/gunko23/film-collective-sub003/internal/service/messages"
	"github.com/gunko23/film-collective-sub003/internal/store"
	"github.com/gunko23/film-collective-sub003/internal/store/sqlite"
	transporthttp "github.com/gunko23/film-collective-sub003/internal/transport/http"
)

// realtimeBackend is what both buffer backends provide.
type realtimeBackend interface {
	realtime.BufferStore
	realtime.PresenceStore
}

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *realtime.Hub
	store           store.Store
	redis           *redis.Store
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DBPath).Msg("database initialized")

	var (
		backend    realtimeBackend
		redisStore *redis.Store
	)
	if cfg.Redis.Addr != "" {
		redisStore, err = redis.New(ctx, cfg.Redis)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("init redis: %w", err)
		}
		backend = redisStore
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("redis buffer backend")
	} else {
		backend = memory.New()
		logger.Warn().Msg("no redis configured, using in-memory buffer backend")
	}

	hub := realtime.NewHub(cfg.HubBuffer)
	buffer := realtime.NewEventBuffer(backend, hub, logger)
	tracker := presence.NewTracker(backend)

	var (
		membership messages.MembershipChecker
		identity   messages.IdentityResolver
		notifier   messages.Notifier
	)
	if cfg.PlatformURL != "" {
		client := platform.NewClient(cfg.PlatformURL, 5*time.Second, logger)
		membership, identity, notifier = client, client, client
	} else {
		logger.Warn().Msg("no platform url configured, membership checks disabled")
		membership, identity = platform.Static{}, platform.Static{}
	}

	svc := messages.New(st, buffer, membership, identity, notifier, logger)

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.Auth.Secret),
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
		TTL:      cfg.Auth.TTL,
	}

	server := transporthttp.NewServer(transporthttp.Deps{
		Messages:   svc,
		Buffer:     buffer,
		Tracker:    tracker,
		Membership: membership,
		JWT:        jwtConfig,
	}, *cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		store:           st,
		redis:           redisStore,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes the hub, database and redis connections.
func (a *App) cleanup() {
	a.hub.Close()

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close redis")
		}
	}
}
