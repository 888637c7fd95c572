// Package persona produces the channel-adapted system prompt. The base
// prompt carries the agent's identity and ground rules; a per-channel
// note tells the model what kind of surface it is speaking through so
// it can adjust register and length.
package persona

import "strings"

const basePrompt = `You are Sable, a personal assistant carrying one continuous conversation with your user across every surface they reach you on.

## Memory
You have layered memory: recent turns, searchable long-term facts, and a graph of people and places the user has mentioned. Context relevant to the current message is injected below. Use the remember tool for facts worth keeping; use recall when the user references something you cannot see in context.

## Rules
- One conversation, many surfaces: never act as if a channel switch started a new relationship.
- Keep answers proportionate to the question. Short questions get short answers.
- Never invent memories. If you do not know, say so or use recall.`

// channelNotes maps channel IDs to system prompt notes describing the
// surface's characteristics.
var channelNotes = map[string]string{
	"cli": "[Source: terminal. The user is at a keyboard in a shell; plain text only, " +
		"no markdown tables, keep lines short.]",
	"telegram": "[Source: Telegram, mobile messaging. Terse input is normal; typing on " +
		"mobile is slow and brevity is not an indicator of emotional state. Keep replies compact.]",
	"discord": "[Source: Discord. Casual register is fine; markdown is rendered.]",
	"web": "[Source: web gateway. Full markdown is rendered; longer structured answers " +
		"are acceptable when asked for.]",
	"mqtt": "[Source: embedded device bridge. Replies may be read aloud or shown on a small " +
		"display; answer in one or two short sentences.]",
}

// Engine builds system prompts.
type Engine struct {
	base string
}

// New creates an engine. An empty base falls back to the built-in
// persona.
func New(base string) *Engine {
	if base == "" {
		base = basePrompt
	}
	return &Engine{base: base}
}

// SystemPrompt returns the persona prompt adapted to a channel.
// Unknown channels get the base prompt unadorned.
func (e *Engine) SystemPrompt(channelID string) string {
	note, ok := channelNotes[channelID]
	if !ok {
		return e.base
	}
	return e.base + "\n\n" + note
}

// ContinuityBanner returns a note for the first reply after a channel
// switch, so the model acknowledges the move without restarting the
// conversation. Empty when either side is unknown.
func (e *Engine) ContinuityBanner(fromChannel, toChannel string) string {
	if fromChannel == "" || toChannel == "" || fromChannel == toChannel {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("[The conversation just moved from ")
	sb.WriteString(fromChannel)
	sb.WriteString(" to ")
	sb.WriteString(toChannel)
	sb.WriteString("; continue it, do not start over.]")
	return sb.String()
}
