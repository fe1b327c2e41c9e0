package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/gunko23/film-collective-sub003/internal/chat"
	"github.com/gunko23/film-collective-sub003/internal/metrics"
	"github.com/gunko23/film-collective-sub003/internal/realtime"
	"github.com/gunko23/film-collective-sub003/internal/service/messages"
)

const (
	// heartbeatInterval keeps proxies from killing idle streams.
	heartbeatInterval = 15 * time.Second
	// streamQueueSize bounds the per-connection event queue. A client that
	// cannot drain this many events gets disconnected and re-syncs.
	streamQueueSize = 64
)

// StreamHandler serves the newline-delimited JSON event stream.
type StreamHandler struct {
	buffer     *realtime.EventBuffer
	membership messages.MembershipChecker
	log        *zerolog.Logger
}

// NewStreamHandler creates a new stream handler instance.
func NewStreamHandler(buffer *realtime.EventBuffer, membership messages.MembershipChecker, logger *zerolog.Logger) *StreamHandler {
	return &StreamHandler{buffer: buffer, membership: membership, log: logger}
}

// Serve streams channel events as NDJSON until the client goes away.
// GET /api/channels/:channel/stream?since=<unixmilli>
func (h *StreamHandler) Serve(c *gin.Context) {
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

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "streaming unsupported"})
		return
	}

	c.Header("Content-Type", "application/x-ndjson")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	metrics.StreamConnections.Inc()
	defer metrics.StreamConnections.Dec()

	enc := json.NewEncoder(c.Writer)

	// Subscribe before replaying the buffer so no event falls in the gap.
	events := make(chan chat.Envelope, streamQueueSize)
	overflow := make(chan struct{}, 1)
	unsubscribe := h.buffer.Subscribe(channelID, func(env chat.Envelope) {
		select {
		case events <- env:
		default:
			select {
			case overflow <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	if err := enc.Encode(chat.Envelope{Type: chat.EventConnected, ChannelID: channelID, Timestamp: time.Now().UTC()}); err != nil {
		return
	}

	if since := parseSince(c.Query("since")); !since.IsZero() {
		missed, err := h.buffer.CatchUp(c.Request.Context(), channelID, since)
		if err != nil {
			h.log.Warn().Err(err).Str("channel", channelID).Msg("catch-up failed")
		}
		for _, env := range missed {
			if err := enc.Encode(env); err != nil {
				return
			}
		}
	}
	flusher.Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-overflow:
			// The client fell too far behind; drop the connection and let it
			// re-sync through the buffer on reconnect.
			h.log.Warn().Str("channel", channelID).Int64("user_id", userID).Msg("stream consumer too slow, disconnecting")
			return
		case env := <-events:
			if err := enc.Encode(env); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			// NDJSON comment line, ignored by clients.
			if _, err := c.Writer.WriteString(": hb\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func parseSince(raw string) time.Time {
	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || millis <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(millis)
}
