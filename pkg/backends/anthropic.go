package backends

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/matterclaw/matterclaw/pkg/config"
)

// ClaudeBackend serves the stateless !claude command.
type ClaudeBackend struct {
	client anthropic.Client
	cfg    config.AnthropicConfig
}

func NewClaudeBackend(cfg config.AnthropicConfig, httpClient *http.Client) *ClaudeBackend {
	return &ClaudeBackend{
		client: anthropic.NewClient(
			option.WithAPIKey(cfg.APIKey),
			option.WithHTTPClient(httpClient),
			option.WithMaxRetries(0),
		),
		cfg: cfg,
	}
}

func (b *ClaudeBackend) Ask(ctx context.Context, prompt string) (string, error) {
	msg, err := b.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(b.cfg.Model),
		MaxTokens: int64(b.cfg.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", wrapErr(NameClaude, err)
	}

	var parts []string
	for _, block := range msg.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	if len(parts) == 0 {
		return "", wrapErr(NameClaude, errors.New("no text blocks in response"))
	}
	return strings.TrimSpace(strings.Join(parts, "\n")), nil
}
