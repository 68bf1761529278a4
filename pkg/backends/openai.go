package backends

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"

	"github.com/matterclaw/matterclaw/pkg/config"
	"github.com/matterclaw/matterclaw/pkg/logger"
	"github.com/matterclaw/matterclaw/pkg/state"
)

// One-shot retry policy: a failed attempt is retried once after a fixed
// backoff. This is the only automatic retry in the system; the SDK's own
// retries are disabled so the budget stays exact.
const (
	oneShotMaxAttempts = 2
	oneShotBackoff     = 2 * time.Second
)

// OpenAIBackend serves the stateless !gpt command and the stateful !chat
// command. Chat continuity uses the Responses API: the previous response id
// is the continuation token, so no message history is kept locally.
type OpenAIBackend struct {
	client openai.Client
	cfg    config.OpenAIConfig
	sleep  func(time.Duration) // test seam for the retry backoff
}

func NewOpenAIBackend(cfg config.OpenAIConfig, httpClient *http.Client) *OpenAIBackend {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.APIBase != "" {
		opts = append(opts, option.WithBaseURL(cfg.APIBase))
	}

	return &OpenAIBackend{
		client: openai.NewClient(opts...),
		cfg:    cfg,
		sleep:  time.Sleep,
	}
}

// Ask performs a single chat completion with the configured sampling
// parameters, retrying once on failure.
func (b *OpenAIBackend) Ask(ctx context.Context, prompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(b.cfg.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(b.cfg.SystemPrompt),
			openai.UserMessage(prompt),
		},
		MaxTokens:        openai.Int(int64(b.cfg.MaxTokens)),
		Temperature:      openai.Float(b.cfg.Temperature),
		TopP:             openai.Float(b.cfg.TopP),
		PresencePenalty:  openai.Float(b.cfg.PresencePenalty),
		FrequencyPenalty: openai.Float(b.cfg.FrequencyPenalty),
		N:                openai.Int(int64(b.cfg.ReplyCount)),
	}

	var lastErr error
	for attempt := 1; attempt <= oneShotMaxAttempts; attempt++ {
		completion, err := b.client.Chat.Completions.New(ctx, params)
		if err == nil {
			if len(completion.Choices) == 0 {
				return "", wrapErr(NameGPT, errors.New("empty choices in completion response"))
			}
			return completion.Choices[0].Message.Content, nil
		}

		lastErr = err
		var apierr *openai.Error
		status := 0
		if errors.As(err, &apierr) {
			status = apierr.StatusCode
		}
		logger.WarnCF("openai", "Completion attempt failed", map[string]interface{}{
			"attempt": attempt,
			"status":  status,
			"error":   err.Error(),
		})

		if attempt < oneShotMaxAttempts {
			if ctx.Err() != nil {
				break
			}
			b.sleep(oneShotBackoff)
		}
	}

	return "", wrapErr(NameGPT, fmt.Errorf("completion failed after %d attempts: %w", oneShotMaxAttempts, lastErr))
}

// Turn sends one conversation turn. The state's LastTurnToken carries the
// previous response id; on the first turn it is the store's opaque
// placeholder and is not sent.
func (b *OpenAIBackend) Turn(ctx context.Context, prompt string, st state.ConversationState) (string, state.ConversationState, error) {
	params := responses.ResponseNewParams{
		Model:           responses.ResponsesModel(b.cfg.Model),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(prompt)},
		Instructions:    openai.String(b.cfg.SystemPrompt),
		MaxOutputTokens: openai.Int(int64(b.cfg.MaxTokens)),
		Temperature:     openai.Float(b.cfg.Temperature),
		TopP:            openai.Float(b.cfg.TopP),
	}
	if !st.FirstTurn && st.ConversationID != "" {
		params.PreviousResponseID = openai.String(st.LastTurnToken)
	}

	resp, err := b.client.Responses.New(ctx, params)
	if err != nil {
		return "", st, wrapErr(NameChat, err)
	}

	newState := state.ConversationState{
		ConversationID: resp.ID,
		LastTurnToken:  resp.ID,
		FirstTurn:      false,
	}
	return resp.OutputText(), newState, nil
}
