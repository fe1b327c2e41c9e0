package http

import (
	"github.com/gunko23/film-collective-sub003/internal/chat"
	"github.com/gunko23/film-collective-sub003/internal/service/messages"
)

// PageResponse is the JSON shape of a history page.
type PageResponse struct {
	Messages []chat.WireMessage `json:"messages"`
	HasMore  bool               `json:"has_more"`
	// NextCursor is a unix-millisecond watermark, present on catch-up
	// responses only.
	NextCursor int64 `json:"next_cursor,omitempty"`
}

func pageToResponse(page *messages.Page, withCursor bool) PageResponse {
	resp := PageResponse{
		Messages: make([]chat.WireMessage, 0, len(page.Messages)),
		HasMore:  page.HasMore,
	}
	for _, m := range page.Messages {
		resp.Messages = append(resp.Messages, chat.ToWire(m, page.Reactions[m.ID]))
	}
	if withCursor && !page.NextCursor.IsZero() {
		resp.NextCursor = page.NextCursor.UnixMilli()
	}
	return resp
}

// TypingUser is one live typer in the typing list response.
type TypingUser struct {
	UserID   int64  `json:"user_id"`
	UserName string `json:"user_name"`
}

func typersToResponse(entries []chat.TypingEntry) []TypingUser {
	out := make([]TypingUser, 0, len(entries))
	for _, e := range entries {
		out = append(out, TypingUser{UserID: e.UserID, UserName: e.UserName})
	}
	return out
}
