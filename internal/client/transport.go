package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/gunko23/film-collective-sub003/internal/chat"
)

// NDJSONDialer opens the long-lived HTTP stream endpoint and reads
// newline-delimited JSON envelopes.
type NDJSONDialer struct {
	// BaseURL is the server root, e.g. "https://api.example.com".
	BaseURL string
	// ChannelID selects the stream.
	ChannelID string
	// Token is the bearer token.
	Token string
	// Since is the initial resume cursor, used only until the stream has
	// seen its first server timestamp; zero means live-only.
	Since time.Time
	// Client defaults to http.DefaultClient.
	Client *http.Client
}

type ndjsonConn struct {
	resp    *http.Response
	scanner *bufio.Scanner
	cancel  context.CancelFunc
}

// Dial opens the stream and verifies the HTTP handshake.
func (d *NDJSONDialer) Dial(ctx context.Context, since time.Time) (Conn, error) {
	cli := d.Client
	if cli == nil {
		cli = http.DefaultClient
	}
	if since.IsZero() {
		since = d.Since
	}

	u := fmt.Sprintf("%s/api/channels/%s/stream", d.BaseURL, url.PathEscape(d.ChannelID))
	if !since.IsZero() {
		u += "?since=" + strconv.FormatInt(since.UnixMilli(), 10)
	}

	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+d.Token)

	resp, err := cli.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("stream handshake: status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &ndjsonConn{resp: resp, scanner: scanner, cancel: cancel}, nil
}

// Recv reads the next envelope line. Heartbeat comment lines (leading ':')
// are skipped.
func (c *ndjsonConn) Recv() (chat.Envelope, error) {
	for c.scanner.Scan() {
		line := c.scanner.Bytes()
		if len(line) == 0 || line[0] == ':' {
			continue
		}
		var env chat.Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			// Skip malformed frames rather than killing the stream.
			continue
		}
		return env, nil
	}
	if err := c.scanner.Err(); err != nil {
		return chat.Envelope{}, err
	}
	return chat.Envelope{}, fmt.Errorf("stream closed")
}

func (c *ndjsonConn) Close() error {
	c.cancel()
	return c.resp.Body.Close()
}

// WSDialer opens the websocket push endpoint carrying the same envelopes.
type WSDialer struct {
	// URL is the full websocket endpoint, e.g.
	// "wss://api.example.com/api/channels/discussion:1/ws".
	URL   string
	Token string
}

type wsConn struct {
	conn *websocket.Conn
	ctx  context.Context
}

// Dial performs the websocket handshake.
func (d *WSDialer) Dial(ctx context.Context, since time.Time) (Conn, error) {
	u := d.URL
	if !since.IsZero() {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + "since=" + strconv.FormatInt(since.UnixMilli(), 10)
	}
	conn, _, err := websocket.Dial(ctx, u, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": {"Bearer " + d.Token}},
	})
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: conn, ctx: ctx}, nil
}

func (c *wsConn) Recv() (chat.Envelope, error) {
	_, data, err := c.conn.Read(c.ctx)
	if err != nil {
		return chat.Envelope{}, err
	}
	var env chat.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return chat.Envelope{}, err
	}
	return env, nil
}

func (c *wsConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "closing")
}
