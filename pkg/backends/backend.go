// Package backends wraps each AI capability behind a small adapter
// interface. The dispatcher never sees transport details; adapters never see
// chat-platform details.
package backends

import (
	"context"
	"fmt"

	"github.com/matterclaw/matterclaw/pkg/state"
)

// Backend names, also used as state-store keys.
const (
	NameGPT    = "gpt"
	NameChat   = "chat"
	NameClaude = "claude"
	NameTalk   = "talk"
	NameImage  = "image"
)

// BackendError marks a per-request backend failure. It is recorded by the
// dispatcher and never crosses into another user's task.
type BackendError struct {
	Backend string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s backend: %v", e.Backend, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

func wrapErr(backend string, err error) error {
	if err == nil {
		return nil
	}
	return &BackendError{Backend: backend, Err: err}
}

// OneShot is a stateless completion capability. Safe for concurrent use.
type OneShot interface {
	Ask(ctx context.Context, prompt string) (string, error)
}

// Conversational is a multi-turn capability. Turn is a pure function of
// prompt and state; the caller persists the returned state.
type Conversational interface {
	Turn(ctx context.Context, prompt string, st state.ConversationState) (string, state.ConversationState, error)
}

// Continuer extends a conversational backend with "continue the last turn"
// without a new prompt. Requires a non-empty ConversationID.
type Continuer interface {
	Continue(ctx context.Context, st state.ConversationState) (string, state.ConversationState, error)
}

// ImageGenerator produces fully written local image files for a prompt.
// The caller owns deleting the files after use.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) ([]string, error)
}
