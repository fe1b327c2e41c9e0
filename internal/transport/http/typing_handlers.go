package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/gunko23/film-collective-sub003/internal/presence"
	"github.com/gunko23/film-collective-sub003/internal/service/messages"
)

// TypingHandlers provides HTTP handlers for typing indicator endpoints.
type TypingHandlers struct {
	tracker    *presence.Tracker
	membership messages.MembershipChecker
	log        *zerolog.Logger
}

// NewTypingHandlers creates a new typing handlers instance.
func NewTypingHandlers(tracker *presence.Tracker, membership messages.MembershipChecker, logger *zerolog.Logger) *TypingHandlers {
	return &TypingHandlers{tracker: tracker, membership: membership, log: logger}
}

// Set refreshes the caller's typing indicator.
// POST /api/channels/:channel/typing
func (h *TypingHandlers) Set(c *gin.Context) {
	userID, username, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	channelID := c.Param("channel")
	if !h.requireMember(c, userID, channelID) {
		return
	}

	if err := h.tracker.SetTyping(c.Request.Context(), channelID, userID, username); err != nil {
		// Typing is best-effort; a dropped refresh just expires faster.
		h.log.Debug().Err(err).Str("channel", channelID).Msg("typing refresh dropped")
	}
	c.Status(http.StatusNoContent)
}

// Stop clears the caller's typing indicator.
// DELETE /api/channels/:channel/typing
func (h *TypingHandlers) Stop(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	channelID := c.Param("channel")
	if !h.requireMember(c, userID, channelID) {
		return
	}

	if err := h.tracker.StopTyping(c.Request.Context(), channelID, userID); err != nil {
		h.log.Debug().Err(err).Str("channel", channelID).Msg("typing clear dropped")
	}
	c.Status(http.StatusNoContent)
}

// List returns everyone currently typing in the channel except the caller.
// GET /api/channels/:channel/typing
func (h *TypingHandlers) List(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	channelID := c.Param("channel")
	if !h.requireMember(c, userID, channelID) {
		return
	}

	entries, err := h.tracker.ListTyping(c.Request.Context(), channelID, userID)
	if err != nil {
		h.log.Error().Err(err).Str("channel", channelID).Msg("failed to list typers")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"typing": typersToResponse(entries)})
}

func (h *TypingHandlers) requireMember(c *gin.Context, userID int64, channelID string) bool {
	ok, err := h.membership.IsMember(c.Request.Context(), userID, channelID)
	if err != nil {
		h.log.Error().Err(err).Str("channel", channelID).Msg("membership check failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return false
	}
	if !ok {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "not a member of this channel"})
		return false
	}
	return true
}
