// Package platform is the Mattermost boundary: the websocket event stream
// on the inbound side and the REST post/file APIs on the outbound side.
package platform

import (
	"encoding/json"
	"fmt"
)

// eventEnvelope is the outer websocket frame. The post payload inside data
// is itself a JSON-encoded string and needs a second decode.
type eventEnvelope struct {
	Event string `json:"event"`
	Data  struct {
		Post       string `json:"post"`
		SenderName string `json:"sender_name"`
	} `json:"data"`
}

type innerPost struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id"`
	RootID    string `json:"root_id"`
	Message   string `json:"message"`
}

// PostEvent is one "posted" event, flattened from the double-encoded
// envelope.
type PostEvent struct {
	ID         string
	UserID     string
	ChannelID  string
	RootID     string
	Message    string
	SenderName string
}

// ThreadRoot returns the id replies should thread under: the post's root
// when it is already in a thread, otherwise the post itself.
func (e PostEvent) ThreadRoot() string {
	if e.RootID != "" {
		return e.RootID
	}
	return e.ID
}

// DecodePostEvent decodes a raw websocket frame. The second return is false
// for frames that are not "posted" events; those are ignored upstream.
func DecodePostEvent(raw []byte) (PostEvent, bool, error) {
	var env eventEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return PostEvent{}, false, fmt.Errorf("decode event envelope: %w", err)
	}
	if env.Event != "posted" {
		return PostEvent{}, false, nil
	}

	var post innerPost
	if err := json.Unmarshal([]byte(env.Data.Post), &post); err != nil {
		return PostEvent{}, false, fmt.Errorf("decode inner post: %w", err)
	}

	return PostEvent{
		ID:         post.ID,
		UserID:     post.UserID,
		ChannelID:  post.ChannelID,
		RootID:     post.RootID,
		Message:    post.Message,
		SenderName: env.Data.SenderName,
	}, true, nil
}
