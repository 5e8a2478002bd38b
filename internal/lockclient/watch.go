package lockclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marcus/assetlock/internal/models"
)

// EventLockChanged is the event type pushed after every lock mutation.
const EventLockChanged = "lock_changed"

// Change is one lock mutation pushed by the service.
type Change struct {
	Origin   string            `json:"origin"`
	Branch   string            `json:"branch"`
	FilePath string            `json:"filePath"`
	Holder   string            `json:"holder,omitempty"`
	Action   models.LockAction `json:"action"`
}

type eventMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Watch subscribes to lock changes for the current scope and calls onChange
// for each one. It returns when ctx is cancelled or the connection drops;
// callers reconnect.
func (c *Client) Watch(ctx context.Context, onChange func(Change)) error {
	s := c.scopes.Current()
	u, err := eventsURL(c.BaseURL, s)
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.Timeout}
	conn, resp, err := dialer.DialContext(ctx, u, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial events: HTTP %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("dial events: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	c.logger.Debug("watching lock changes", "scope", s.String())
	for {
		var msg eventMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read event: %w", err)
		}
		if msg.Type != EventLockChanged {
			continue
		}
		var ch Change
		if err := json.Unmarshal(msg.Data, &ch); err != nil {
			c.logger.Warn("malformed lock event", "err", err)
			continue
		}
		onChange(ch)
	}
}

func eventsURL(base string, s models.Scope) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse service url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/events"
	u.RawQuery = url.Values{"branch": {s.Branch}, "origin": {s.Origin}}.Encode()
	return u.String(), nil
}
