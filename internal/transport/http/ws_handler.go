package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/gunko23/film-collective-sub003/internal/chat"
	"github.com/gunko23/film-collective-sub003/internal/metrics"
	"github.com/gunko23/film-collective-sub003/internal/realtime"
	"github.com/gunko23/film-collective-sub003/internal/service/messages"
)

// WSHandler upgrades HTTP connections and pushes channel events over
// websocket. It carries the same envelope frames as the NDJSON stream.
type WSHandler struct {
	buffer     *realtime.EventBuffer
	membership messages.MembershipChecker
	log        *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(buffer *realtime.EventBuffer, membership messages.MembershipChecker, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{buffer: buffer, membership: membership, log: logger}
}

// Serve upgrades the connection and streams events until the peer closes.
// GET /api/channels/:channel/ws?since=<unixmilli>
func (h *WSHandler) Serve(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	channelID := c.Param("channel")

	member, err := h.membership.IsMember(c.Request.Context(), userID, channelID)
	if err != nil {
		h.log.Error().Err(err).Str("channel", channelID).Msg("membership check failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "not a member of this channel"})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	metrics.StreamConnections.Inc()
	defer metrics.StreamConnections.Dec()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	events := make(chan chat.Envelope, streamQueueSize)
	unsubscribe := h.buffer.Subscribe(channelID, func(env chat.Envelope) {
		select {
		case events <- env:
		default:
			// Slow consumer; cancel and let the client re-sync.
			cancel()
		}
	})
	defer unsubscribe()

	if err := wsjson.Write(ctx, conn, chat.Envelope{Type: chat.EventConnected, ChannelID: channelID, Timestamp: time.Now().UTC()}); err != nil {
		return
	}

	if since := parseSince(c.Query("since")); !since.IsZero() {
		missed, err := h.buffer.CatchUp(ctx, channelID, since)
		if err != nil {
			h.log.Warn().Err(err).Str("channel", channelID).Msg("catch-up failed")
		}
		for _, env := range missed {
			if err := wsjson.Write(ctx, conn, env); err != nil {
				return
			}
		}
	}

	// Reads are only pings and the close handshake.
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				cancel()
				return
			}
		}
	}()

	writeErr := h.writeLoop(ctx, conn, events)

	status := websocket.StatusNormalClosure
	reason := "closing"
	if writeErr != nil && !errors.Is(writeErr, context.Canceled) {
		if s := websocket.CloseStatus(writeErr); s != 0 {
			status = s
		} else {
			status = websocket.StatusInternalError
			reason = writeErr.Error()
			h.log.Warn().Err(writeErr).Msg("ws connection closed with error")
		}
	}
	conn.Close(status, reason)
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, events <-chan chat.Envelope) error {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env := <-events:
			if err := wsjson.Write(ctx, conn, env); err != nil {
				return err
			}
		case <-ticker.C:
			if err := conn.Ping(ctx); err != nil {
				return err
			}
		}
	}
}
