// Package bot ties the event stream to the dispatcher and owns the
// startup and shutdown sequence.
package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/matterclaw/matterclaw/pkg/dispatcher"
	"github.com/matterclaw/matterclaw/pkg/logger"
	"github.com/matterclaw/matterclaw/pkg/platform"
)

type Bot struct {
	client        *platform.Client
	dispatcher    *dispatcher.Dispatcher
	registry      *dispatcher.Registry
	shutdownGrace time.Duration
}

// New wires a connected platform client to the dispatcher. shutdownGrace
// bounds how long Run waits for in-flight commands after the context is
// cancelled; zero means abandon them immediately.
func New(client *platform.Client, d *dispatcher.Dispatcher, shutdownGrace time.Duration) *Bot {
	return &Bot{
		client:        client,
		dispatcher:    d,
		registry:      dispatcher.NewRegistry(),
		shutdownGrace: shutdownGrace,
	}
}

// Run authenticates, then consumes the event stream until ctx is cancelled
// or the stream fails. Each inbound post is handled in its own tracked task
// so a slow backend call never stalls ingestion.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.client.Login(ctx); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	logger.InfoC("bot", "Authenticated, entering event loop")

	// Tasks outlive the listen context so the shutdown grace period can
	// let in-flight backend calls finish.
	taskCtx := context.WithoutCancel(ctx)
	err := b.client.Listen(ctx, func(ev platform.PostEvent) {
		b.registry.Go(func() {
			b.dispatcher.HandlePost(taskCtx, ev)
		})
	})

	abandoned := b.registry.Shutdown(b.shutdownGrace)
	if abandoned > 0 {
		logger.WarnCF("bot", "Abandoned in-flight tasks on shutdown", map[string]interface{}{
			"count": abandoned,
		})
	}

	if err != nil && ctx.Err() != nil {
		// Cancellation is the normal way out of the loop.
		logger.InfoC("bot", "Event loop stopped")
		return nil
	}
	return err
}
