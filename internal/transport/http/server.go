package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/gunko23/film-collective-sub003/internal/auth"
	"github.com/gunko23/film-collective-sub003/internal/config"
	"github.com/gunko23/film-collective-sub003/internal/metrics"
	"github.com/gunko23/film-collective-sub003/internal/presence"
	"github.com/gunko23/film-collective-sub003/internal/realtime"
	"github.com/gunko23/film-collective-sub003/internal/service/messages"
)

// Deps bundles everything the HTTP layer serves.
type Deps struct {
	Messages   *messages.Service
	Buffer     *realtime.EventBuffer
	Tracker    *presence.Tracker
	Membership messages.MembershipChecker
	JWT        *auth.JWTConfig
}

// NewServer builds the HTTP server with all chat routes.
func NewServer(deps Deps, cfg config.Config, logger *zerolog.Logger) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(deps, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewRouter assembles the gin engine. Split from NewServer so handler
// tests can drive it through httptest.
func NewRouter(deps Deps, logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/healthz", healthHandler)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	msgs := NewMessageHandlers(deps.Messages, logger)
	typing := NewTypingHandlers(deps.Tracker, deps.Membership, logger)
	stream := NewStreamHandler(deps.Buffer, deps.Membership, logger)
	ws := NewWSHandler(deps.Buffer, deps.Membership, logger)

	api := router.Group("/api")
	api.Use(AuthMiddleware(deps.JWT, logger))
	{
		ch := api.Group("/channels/:channel")
		ch.GET("/messages", msgs.List)
		ch.POST("/messages", msgs.Send)
		ch.PATCH("/messages/:id", msgs.Edit)
		ch.DELETE("/messages/:id", msgs.Delete)
		ch.POST("/messages/:id/reactions", msgs.ToggleReaction)
		ch.POST("/read", msgs.MarkRead)
		ch.GET("/typing", typing.List)
		ch.POST("/typing", typing.Set)
		ch.DELETE("/typing", typing.Stop)
		ch.GET("/stream", stream.Serve)
		ch.GET("/ws", ws.Serve)
	}

	return router
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
