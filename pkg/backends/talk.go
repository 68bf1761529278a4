package backends

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/matterclaw/matterclaw/pkg/config"
	"github.com/matterclaw/matterclaw/pkg/logger"
	"github.com/matterclaw/matterclaw/pkg/state"
)

// TalkBackend is a provider-specific stateful chat reached over a plain
// JSON-over-HTTP endpoint. Continuity is a (conversation_id,
// parent_message_id) pair: the conversation id comes back on the first turn
// and the parent message id advances every turn.
type TalkBackend struct {
	endpoint string
	model    string
	client   *http.Client
}

func NewTalkBackend(cfg config.TalkConfig, httpClient *http.Client) *TalkBackend {
	return &TalkBackend{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		model:    cfg.Model,
		client:   httpClient,
	}
}

type talkRequest struct {
	Prompt          string `json:"prompt,omitempty"`
	Model           string `json:"model"`
	ParentMessageID string `json:"parent_message_id"`
	ConversationID  string `json:"conversation_id,omitempty"`
	Stream          bool   `json:"stream"`
}

type talkResponse struct {
	ConversationID string `json:"conversation_id"`
	Message        struct {
		ID      string `json:"id"`
		Content struct {
			Parts []string `json:"parts"`
		} `json:"content"`
	} `json:"message"`
}

func (b *TalkBackend) Turn(ctx context.Context, prompt string, st state.ConversationState) (string, state.ConversationState, error) {
	req := talkRequest{
		Prompt:          prompt,
		Model:           b.model,
		ParentMessageID: st.LastTurnToken,
		ConversationID:  st.ConversationID,
		Stream:          false,
	}

	resp, err := b.post(ctx, "/api/conversation/talk", req)
	if err != nil {
		return "", st, wrapErr(NameTalk, err)
	}

	newState := state.ConversationState{
		ConversationID: resp.ConversationID,
		LastTurnToken:  resp.Message.ID,
		FirstTurn:      false,
	}

	if st.FirstTurn {
		// Title generation is best effort; the turn already succeeded.
		if err := b.genTitle(ctx, newState); err != nil {
			logger.WarnCF("talk", "Title generation failed", map[string]interface{}{
				"conversation_id": newState.ConversationID,
				"error":           err.Error(),
			})
		}
	}

	return firstPart(resp), newState, nil
}

// Continue resumes the last incomplete turn. The dispatcher guarantees a
// non-empty ConversationID before calling.
func (b *TalkBackend) Continue(ctx context.Context, st state.ConversationState) (string, state.ConversationState, error) {
	req := talkRequest{
		Model:           b.model,
		ParentMessageID: st.LastTurnToken,
		ConversationID:  st.ConversationID,
		Stream:          false,
	}

	resp, err := b.post(ctx, "/api/conversation/goon", req)
	if err != nil {
		return "", st, wrapErr(NameTalk, err)
	}

	newState := state.ConversationState{
		ConversationID: resp.ConversationID,
		LastTurnToken:  resp.Message.ID,
		FirstTurn:      false,
	}
	return firstPart(resp), newState, nil
}

func (b *TalkBackend) genTitle(ctx context.Context, st state.ConversationState) error {
	body := map[string]string{
		"model":      b.model,
		"message_id": st.LastTurnToken,
	}
	path := "/api/conversation/gen_title/" + st.ConversationID
	_, err := b.post(ctx, path, body)
	return err
}

func (b *TalkBackend) post(ctx context.Context, path string, body interface{}) (*talkResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d: %s", path, resp.StatusCode, truncateBody(data))
	}

	var out talkResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", path, err)
	}
	return &out, nil
}

func firstPart(resp *talkResponse) string {
	if len(resp.Message.Content.Parts) == 0 {
		return ""
	}
	return resp.Message.Content.Parts[0]
}

func truncateBody(data []byte) string {
	const max = 200
	s := string(data)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
