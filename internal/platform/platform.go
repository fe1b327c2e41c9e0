// Package platform adapts the collective's main backend to the chat
// service's collaborator interfaces. Membership and member profiles live
// in the platform; chat only asks questions about them.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/gunko23/film-collective-sub003/internal/chat"
	"github.com/gunko23/film-collective-sub003/internal/service/messages"
)

// Client talks to the platform's internal API.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zerolog.Logger
}

// NewClient builds a platform client for the given internal base URL.
func NewClient(baseURL string, timeout time.Duration, logger *zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		log:     logger,
	}
}

type membershipResponse struct {
	Member bool `json:"member"`
}

// IsMember asks the platform whether the user belongs to the channel's
// collective or thread.
func (c *Client) IsMember(ctx context.Context, userID int64, channelID string) (bool, error) {
	endpoint := fmt.Sprintf("%s/internal/channels/%s/members/%d",
		c.baseURL, url.PathEscape(channelID), userID)

	var resp membershipResponse
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return false, fmt.Errorf("membership lookup: %w", err)
	}
	return resp.Member, nil
}

type memberResponse struct {
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url"`
}

// Resolve fetches the member's display identity.
func (c *Client) Resolve(ctx context.Context, userID int64) (messages.Identity, error) {
	endpoint := fmt.Sprintf("%s/internal/members/%d", c.baseURL, userID)

	var resp memberResponse
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return messages.Identity{}, fmt.Errorf("member lookup: %w", err)
	}
	return messages.Identity{Name: resp.Username, AvatarURL: resp.AvatarURL}, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("platform returned %d", res.StatusCode)
	}
	return json.NewDecoder(res.Body).Decode(out)
}

// NotifyNewMessage hands the "new message" fact to the platform's push
// dispatcher. Fire-and-forget: failures are logged, never retried here.
func (c *Client) NotifyNewMessage(channelID string, msg *chat.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), c.http.Timeout)
	defer cancel()

	body, err := json.Marshal(map[string]any{
		"channel_id":  channelID,
		"message_id":  msg.ID,
		"author_id":   msg.AuthorID,
		"author_name": msg.AuthorName,
	})
	if err != nil {
		return
	}

	endpoint := c.baseURL + "/internal/notifications/chat-message"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Str("channel", channelID).Msg("push notify failed")
		return
	}
	res.Body.Close()
	if res.StatusCode >= 300 {
		c.log.Debug().Int("status", res.StatusCode).Str("channel", channelID).Msg("push notify rejected")
	}
}

// Static is the dev-mode stand-in used when no platform URL is configured:
// every authenticated user is a member everywhere and names are synthetic.
type Static struct{}

func (Static) IsMember(context.Context, int64, string) (bool, error) {
	return true, nil
}

func (Static) Resolve(_ context.Context, userID int64) (messages.Identity, error) {
	return messages.Identity{Name: fmt.Sprintf("member-%d", userID)}, nil
}
