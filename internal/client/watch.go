package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"gracelog/internal/session"
)

// WatchSession follows the server's session event stream until ctx ends, the
// stream closes, or the server reports that this user signed out, in which
// case the local session is cleared and signed_out is published locally.
func (c *Client) WatchSession(ctx context.Context) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/session/events", token, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.Stream.Do(req)
	if err != nil {
		return fmt.Errorf("session stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	var name, data string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if name != "" {
				if done := c.handleStreamEvent(ctx, name, data); done {
					return nil
				}
			}
			name, data = "", ""
		case strings.HasPrefix(line, ":"):
			// comment / heartbeat
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data += strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("session stream: %w", err)
	}
	return nil
}

func (c *Client) handleStreamEvent(ctx context.Context, name, data string) bool {
	var evt session.Event
	if err := json.Unmarshal([]byte(data), &evt); err != nil {
		c.log.Warn("malformed session event", zap.String("event", name), zap.Error(err))
		return false
	}
	c.log.Debug("session event", zap.String("type", string(evt.Type)), zap.String("user_id", evt.UserID))
	if evt.Type != session.SignedOut {
		return false
	}
	cur := c.Session()
	if cur != nil && cur.User.ID == evt.UserID {
		c.clearSession(ctx)
	}
	return true
}
