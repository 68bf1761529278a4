package platform

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/matterclaw/matterclaw/pkg/logger"
)

// PostHandler receives each decoded "posted" event. It must not block the
// read loop; the bot layer spawns a dispatcher task per call.
type PostHandler func(PostEvent)

type authChallenge struct {
	Seq    int               `json:"seq"`
	Action string            `json:"action"`
	Data   map[string]string `json:"data"`
}

// Listen connects to the Mattermost websocket, authenticates the stream,
// and feeds every posted event to handler until ctx is cancelled or the
// connection drops. The platform session must already be logged in.
func (c *Client) Listen(ctx context.Context, handler PostHandler) error {
	token := c.sessionToken()
	if token == "" {
		return fmt.Errorf("session is not authenticated")
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: c.httpClient.Timeout,
	}
	conn, resp, err := dialer.DialContext(ctx, c.wsURL, http.Header{
		"Authorization": []string{"Bearer " + token},
	})
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	challenge := authChallenge{
		Seq:    1,
		Action: "authentication_challenge",
		Data:   map[string]string{"token": token},
	}
	if err := conn.WriteJSON(challenge); err != nil {
		return fmt.Errorf("send authentication challenge: %w", err)
	}

	logger.InfoCF("platform", "Event stream connected", map[string]interface{}{
		"url": c.wsURL,
	})

	// Unblock the read loop when ctx is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read event: %w", err)
		}

		event, ok, err := DecodePostEvent(raw)
		if err != nil {
			logger.WarnCF("platform", "Skipping undecodable event", map[string]interface{}{
				"error":   err.Error(),
				"preview": truncate(string(raw), 120),
			})
			continue
		}
		if !ok {
			continue
		}

		handler(event)
	}
}
