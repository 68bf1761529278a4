// Package commands turns raw Mattermost message text into typed bot commands.
package commands

import (
	"regexp"
)

type Kind int

const (
	KindOneShot Kind = iota // !gpt, stateless completion
	KindChat                // !chat, multi-turn conversation
	KindClaude              // !claude, stateless completion via Anthropic
	KindImage               // !pic, image generation
	KindTalk                // !talk, provider-specific stateful chat
	KindContinue            // !goon, continue the previous talk turn
	KindNew                 // !new, start a fresh conversation
	KindHelp                // !help
)

var kindNames = map[Kind]string{
	KindOneShot:  "gpt",
	KindChat:     "chat",
	KindClaude:   "claude",
	KindImage:    "pic",
	KindTalk:     "talk",
	KindContinue: "goon",
	KindNew:      "new",
	KindHelp:     "help",
}

func (k Kind) String() string {
	return kindNames[k]
}

// ReplyTarget identifies where a response must be posted. RootID threads the
// reply under the triggering message's thread.
type ReplyTarget struct {
	ChannelID string
	RootID    string
}

// Command is one classified inbound message. Immutable after construction.
type Command struct {
	Kind     Kind
	Argument string
	Invoker  string
	Target   ReplyTarget
}

type trigger struct {
	kind    Kind
	pattern *regexp.Regexp
}

// Classification order is fixed: the first matching trigger wins. This
// matters because a later trigger can appear verbatim inside an earlier
// trigger's argument text.
var triggers = []trigger{
	{KindOneShot, regexp.MustCompile(`^\s*!gpt\s+(.+)$`)},
	{KindChat, regexp.MustCompile(`^\s*!chat\s+(.+)$`)},
	{KindClaude, regexp.MustCompile(`^\s*!claude\s+(.+)$`)},
	{KindImage, regexp.MustCompile(`^\s*!pic\s+(.+)$`)},
	{KindTalk, regexp.MustCompile(`^\s*!talk\s+(.+)$`)},
	{KindContinue, regexp.MustCompile(`^\s*!goon\s*$`)},
	{KindNew, regexp.MustCompile(`^\s*!new\s*$`)},
	{KindHelp, regexp.MustCompile(`^\s*!help\s*$`)},
}

// Classify matches text against the trigger table. The second return is
// false when no trigger matches. Argument commands require whitespace and a
// non-empty argument after the trigger; zero-argument commands permit only
// trailing whitespace. The captured argument keeps its trailing whitespace.
func Classify(text string) (Kind, string, bool) {
	for _, t := range triggers {
		m := t.pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		arg := ""
		if len(m) > 1 {
			arg = m[1]
		}
		return t.kind, arg, true
	}
	return 0, "", false
}
