package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/gunko23/film-collective-sub003/internal/chat"
	"github.com/gunko23/film-collective-sub003/internal/service/messages"
)

// MessageHandlers provides HTTP handlers for channel message endpoints.
type MessageHandlers struct {
	svc *messages.Service
	log *zerolog.Logger
}

// NewMessageHandlers creates a new message handlers instance.
func NewMessageHandlers(svc *messages.Service, logger *zerolog.Logger) *MessageHandlers {
	return &MessageHandlers{svc: svc, log: logger}
}

// SendRequest represents the send message request body.
type SendRequest struct {
	Content     string `json:"content"`
	GifURL      string `json:"gif_url"`
	ReplyToID   string `json:"reply_to_id"`
	ClientToken string `json:"client_token"`
}

// EditRequest represents the edit message request body. Content may be
// empty: clearing the caption of a GIF message is a valid edit, and the
// service rejects edits that would leave a message with nothing to show.
type EditRequest struct {
	Content string `json:"content"`
}

// ReactionRequest represents the reaction toggle request body.
type ReactionRequest struct {
	Type chat.ReactionType `json:"reaction_type" binding:"required"`
}

// ReactionResponse reports the toggle outcome.
type ReactionResponse struct {
	Action string `json:"action"`
}

// ReadRequest represents the read receipt request body.
type ReadRequest struct {
	MessageID string `json:"message_id" binding:"required"`
}

// List returns a history page. `before` anchors a backward page on a
// message id; `cursor` (unix millis) fetches forward from a watermark for
// catch-up after the buffer window expired.
// GET /api/channels/:channel/messages?before=<id>&limit=<n>
// GET /api/channels/:channel/messages?cursor=<unixmilli>&limit=<n>
func (h *MessageHandlers) List(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	if cursor := parseSince(c.Query("cursor")); !cursor.IsZero() {
		page, err := h.svc.FetchSince(c.Request.Context(), c.Param("channel"), userID, cursor, intQuery(c, "limit"))
		if err != nil {
			h.writeServiceError(c, err, "list messages since")
			return
		}
		c.JSON(http.StatusOK, pageToResponse(page, true))
		return
	}

	page, err := h.svc.FetchPage(c.Request.Context(), messages.FetchPageParams{
		ChannelID: c.Param("channel"),
		UserID:    userID,
		Before:    c.Query("before"),
		Limit:     intQuery(c, "limit"),
	})
	if err != nil {
		h.writeServiceError(c, err, "list messages")
		return
	}

	c.JSON(http.StatusOK, pageToResponse(page, false))
}

// Send persists a new message and fans it out.
// POST /api/channels/:channel/messages
func (h *MessageHandlers) Send(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid send request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	msg, err := h.svc.Send(c.Request.Context(), messages.SendParams{
		ChannelID:   c.Param("channel"),
		AuthorID:    userID,
		Content:     req.Content,
		GifURL:      req.GifURL,
		ReplyToID:   req.ReplyToID,
		ClientToken: req.ClientToken,
	})
	if err != nil {
		h.writeServiceError(c, err, "send message")
		return
	}

	c.JSON(http.StatusCreated, chat.ToWire(msg, nil))
}

// Edit rewrites the author's own message.
// PATCH /api/channels/:channel/messages/:id
func (h *MessageHandlers) Edit(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req EditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid edit request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	msg, err := h.svc.Edit(c.Request.Context(), c.Param("id"), userID, req.Content)
	if err != nil {
		h.writeServiceError(c, err, "edit message")
		return
	}

	c.JSON(http.StatusOK, chat.ToWire(msg, nil))
}

// Delete soft-deletes the author's own message.
// DELETE /api/channels/:channel/messages/:id
func (h *MessageHandlers) Delete(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	if err := h.svc.Delete(c.Request.Context(), c.Param("id"), userID); err != nil {
		h.writeServiceError(c, err, "delete message")
		return
	}

	c.Status(http.StatusNoContent)
}

// ToggleReaction flips one reaction for the caller.
// POST /api/channels/:channel/messages/:id/reactions
func (h *MessageHandlers) ToggleReaction(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req ReactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid reaction request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	res, err := h.svc.ToggleReaction(c.Request.Context(), c.Param("id"), userID, req.Type)
	if err != nil {
		h.writeServiceError(c, err, "toggle reaction")
		return
	}

	c.JSON(http.StatusOK, ReactionResponse{Action: res.Action})
}

// MarkRead records the caller's read watermark. Always 204: receipts are
// best-effort and never block the client.
// POST /api/channels/:channel/read
func (h *MessageHandlers) MarkRead(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req ReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	h.svc.MarkRead(c.Request.Context(), c.Param("channel"), userID, req.MessageID)
	c.Status(http.StatusNoContent)
}

func (h *MessageHandlers) writeServiceError(c *gin.Context, err error, op string) {
	switch {
	case errors.Is(err, messages.ErrNotMember):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "not a member of this channel"})
	case errors.Is(err, messages.ErrMessageNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "message not found"})
	case errors.Is(err, messages.ErrNotAuthor):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "only the author can modify a message"})
	case errors.Is(err, messages.ErrInvalidReaction):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unknown reaction type"})
	case errors.Is(err, chat.ErrEmptyMessage):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "message needs content or a gif"})
	default:
		h.log.Error().Err(err).Str("op", op).Msg("message operation failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}

func intQuery(c *gin.Context, name string) int {
	n, err := strconv.Atoi(c.Query(name))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
