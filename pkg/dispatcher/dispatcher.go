// Package dispatcher routes classified commands to backend adapters and
// posts their results back to the originating thread. It owns the per-user
// conversation state discipline and failure containment.
package dispatcher

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/matterclaw/matterclaw/pkg/backends"
	"github.com/matterclaw/matterclaw/pkg/commands"
	"github.com/matterclaw/matterclaw/pkg/logger"
	"github.com/matterclaw/matterclaw/pkg/platform"
	"github.com/matterclaw/matterclaw/pkg/state"
)

const genericErrorReply = "Something went wrong while processing your request. Please try again later."

// Gateway is the outbound capability the dispatcher consumes. Implemented
// by platform.Client.
type Gateway interface {
	SendMessage(ctx context.Context, channelID, message, rootID string) error
	SendFile(ctx context.Context, channelID, caption, path, rootID string) error
}

// Adapters carries the configured backend set. A nil adapter means the
// backend is not configured; its commands become silent no-ops.
type Adapters struct {
	OneShot backends.OneShot        // !gpt
	Chat    backends.Conversational // !chat
	Claude  backends.OneShot        // !claude
	Talk    backends.Conversational // !talk (also Continuer for !goon)
	Image   backends.ImageGenerator // !pic
}

type Dispatcher struct {
	botUsername   string
	store         *state.Store
	adapters      Adapters
	gateway       Gateway
	verboseErrors bool
	configured    map[commands.Kind]bool
}

func New(botUsername string, store *state.Store, adapters Adapters, gateway Gateway, verboseErrors bool) *Dispatcher {
	// The configured set is computed once here; dispatch decisions never
	// inspect nil adapter fields directly.
	configured := map[commands.Kind]bool{
		commands.KindOneShot:  adapters.OneShot != nil,
		commands.KindChat:     adapters.Chat != nil,
		commands.KindClaude:   adapters.Claude != nil,
		commands.KindImage:    adapters.Image != nil,
		commands.KindTalk:     adapters.Talk != nil,
		commands.KindContinue: adapters.Talk != nil,
		commands.KindNew:      adapters.Chat != nil || adapters.Talk != nil,
		commands.KindHelp:     true,
	}

	return &Dispatcher{
		botUsername:   botUsername,
		store:         store,
		adapters:      adapters,
		gateway:       gateway,
		verboseErrors: verboseErrors,
		configured:    configured,
	}
}

// HandlePost runs the full pipeline for one inbound post. Any failure,
// including a panic, stays inside this call; concurrent calls for other
// users are unaffected.
func (d *Dispatcher) HandlePost(ctx context.Context, ev platform.PostEvent) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("dispatcher", "Recovered from panic in dispatch task", map[string]interface{}{
				"user_id": ev.UserID,
				"panic":   fmt.Sprintf("%v", r),
			})
		}
	}()

	// Loop prevention: never act on the bot's own posts.
	if ev.SenderName == d.botUsername {
		return
	}

	kind, arg, ok := commands.Classify(ev.Message)
	if !ok {
		return
	}

	cmd := commands.Command{
		Kind:     kind,
		Argument: arg,
		Invoker:  ev.UserID,
		Target: commands.ReplyTarget{
			ChannelID: ev.ChannelID,
			RootID:    ev.ThreadRoot(),
		},
	}

	if !d.configured[kind] {
		logger.DebugCF("dispatcher", "Command for unconfigured backend ignored", map[string]interface{}{
			"command": kind.String(),
			"user_id": cmd.Invoker,
		})
		return
	}

	logger.InfoCF("dispatcher", "Dispatching command", map[string]interface{}{
		"command":    kind.String(),
		"user_id":    cmd.Invoker,
		"channel_id": cmd.Target.ChannelID,
	})

	switch kind {
	case commands.KindOneShot:
		d.runOneShot(ctx, cmd, d.adapters.OneShot)
	case commands.KindClaude:
		d.runOneShot(ctx, cmd, d.adapters.Claude)
	case commands.KindChat:
		d.runTurn(ctx, cmd, backends.NameChat, d.adapters.Chat)
	case commands.KindTalk:
		d.runTurn(ctx, cmd, backends.NameTalk, d.adapters.Talk)
	case commands.KindContinue:
		d.runContinue(ctx, cmd)
	case commands.KindNew:
		d.runNew(ctx, cmd)
	case commands.KindImage:
		d.runImage(ctx, cmd)
	case commands.KindHelp:
		d.reply(ctx, cmd.Target, d.helpText())
	}
}

func (d *Dispatcher) runOneShot(ctx context.Context, cmd commands.Command, backend backends.OneShot) {
	reply, err := backend.Ask(ctx, cmd.Argument)
	if err != nil {
		d.failCommand(ctx, cmd, err)
		return
	}
	d.reply(ctx, cmd.Target, reply)
}

// runTurn holds the per-(user, backend) lock across the whole
// read-invoke-update sequence so a rapid second command from the same user
// always observes the first one's persisted state.
func (d *Dispatcher) runTurn(ctx context.Context, cmd commands.Command, backendName string, backend backends.Conversational) {
	unlock := d.store.Lock(cmd.Invoker, backendName)
	defer unlock()

	st := d.store.Get(cmd.Invoker, backendName)
	reply, newState, err := backend.Turn(ctx, cmd.Argument, st)
	if err != nil {
		d.failCommand(ctx, cmd, err)
		return
	}

	d.store.Update(cmd.Invoker, backendName, newState)
	d.reply(ctx, cmd.Target, reply)
}

func (d *Dispatcher) runContinue(ctx context.Context, cmd commands.Command) {
	cont, ok := d.adapters.Talk.(backends.Continuer)
	if !ok {
		logger.WarnC("dispatcher", "Talk backend does not support continue")
		return
	}

	unlock := d.store.Lock(cmd.Invoker, backends.NameTalk)
	defer unlock()

	st := d.store.Get(cmd.Invoker, backends.NameTalk)
	if st.ConversationID == "" {
		// Nothing to continue without an established conversation.
		logger.DebugCF("dispatcher", "Continue without prior conversation ignored", map[string]interface{}{
			"user_id": cmd.Invoker,
		})
		return
	}

	reply, newState, err := cont.Continue(ctx, st)
	if err != nil {
		d.failCommand(ctx, cmd, err)
		return
	}

	d.store.Update(cmd.Invoker, backends.NameTalk, newState)
	d.reply(ctx, cmd.Target, reply)
}

func (d *Dispatcher) runNew(ctx context.Context, cmd commands.Command) {
	if d.configured[commands.KindChat] {
		unlock := d.store.Lock(cmd.Invoker, backends.NameChat)
		d.store.Reset(cmd.Invoker, backends.NameChat)
		unlock()
	}
	if d.configured[commands.KindTalk] {
		unlock := d.store.Lock(cmd.Invoker, backends.NameTalk)
		d.store.Reset(cmd.Invoker, backends.NameTalk)
		unlock()
	}

	d.reply(ctx, cmd.Target, "New conversation created, use a chat command to start talking!")
}

// runImage sends each generated file individually and removes it locally
// after the send attempt, whether or not the send succeeded.
func (d *Dispatcher) runImage(ctx context.Context, cmd commands.Command) {
	paths, err := d.adapters.Image.Generate(ctx, cmd.Argument)
	if err != nil {
		d.failCommand(ctx, cmd, err)
		return
	}

	for _, path := range paths {
		sendErr := d.gateway.SendFile(ctx, cmd.Target.ChannelID, cmd.Argument, path, cmd.Target.RootID)
		if sendErr != nil {
			logger.ErrorCF("dispatcher", "Failed to send generated image", map[string]interface{}{
				"path":  path,
				"error": sendErr.Error(),
			})
		}
		if rmErr := os.Remove(path); rmErr != nil {
			logger.WarnCF("dispatcher", "Failed to remove local image file", map[string]interface{}{
				"path":  path,
				"error": rmErr.Error(),
			})
		}
	}
}

// failCommand records a backend failure once and sends exactly one
// user-visible reply for it.
func (d *Dispatcher) failCommand(ctx context.Context, cmd commands.Command, err error) {
	logger.ErrorCF("dispatcher", "Backend call failed", map[string]interface{}{
		"command": cmd.Kind.String(),
		"user_id": cmd.Invoker,
		"error":   err.Error(),
	})

	msg := genericErrorReply
	if d.verboseErrors {
		msg = err.Error()
	}
	d.reply(ctx, cmd.Target, msg)
}

// reply posts to the target thread. A failed send is terminal for the
// request: logged, never propagated.
func (d *Dispatcher) reply(ctx context.Context, target commands.ReplyTarget, text string) {
	if err := d.gateway.SendMessage(ctx, target.ChannelID, text, target.RootID); err != nil {
		logger.ErrorCF("dispatcher", "Failed to send reply", map[string]interface{}{
			"channel_id": target.ChannelID,
			"error":      err.Error(),
		})
	}
}

func (d *Dispatcher) helpText() string {
	var lines []string
	if d.configured[commands.KindOneShot] {
		lines = append(lines, "!gpt [content], generate response without context conversation")
	}
	if d.configured[commands.KindChat] {
		lines = append(lines, "!chat [content], chat with context conversation")
	}
	if d.configured[commands.KindClaude] {
		lines = append(lines, "!claude [content], ask Claude without context conversation")
	}
	if d.configured[commands.KindImage] {
		lines = append(lines, "!pic [prompt], image generation")
	}
	if d.configured[commands.KindTalk] {
		lines = append(lines, "!talk [content], talk using the conversation endpoint")
		lines = append(lines, "!goon, continue the incomplete conversation")
	}
	if d.configured[commands.KindNew] {
		lines = append(lines, "!new, start a new conversation")
	}
	lines = append(lines, "!help, help message")
	return strings.Join(lines, "\n")
}
