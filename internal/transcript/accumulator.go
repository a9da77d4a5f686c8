// Package transcript buffers streaming transcription fragments into finished chat messages.
package transcript

import (
	"strings"

	"github.com/satriahrh/companion/domain/entities"
)

// Accumulator collects user and agent transcription fragments of the current turn.
// It is not safe for concurrent use; the owning session serializes access.
type Accumulator struct {
	user  strings.Builder
	agent strings.Builder
}

// AppendUser appends a fragment of the user's speech transcription
func (a *Accumulator) AppendUser(fragment string) {
	a.user.WriteString(fragment)
}

// AppendAgent appends a fragment of the agent's output transcription
func (a *Accumulator) AppendAgent(fragment string) {
	a.agent.WriteString(fragment)
}

// TurnComplete flushes both buffers. The user message, if any, precedes the
// assistant message. Whitespace-only buffers produce no message.
func (a *Accumulator) TurnComplete() []entities.Message {
	var out []entities.Message
	if text := a.user.String(); strings.TrimSpace(text) != "" {
		out = append(out, entities.NewMessage(entities.RoleUser, text))
	}
	if text := a.agent.String(); strings.TrimSpace(text) != "" {
		out = append(out, entities.NewMessage(entities.RoleAssistant, text))
	}
	a.user.Reset()
	a.agent.Reset()
	return out
}

// Interrupted drops the agent's partial transcript. The user's buffer is kept
// so that what they said is still committed at the end of the turn.
func (a *Accumulator) Interrupted() {
	a.agent.Reset()
}

// Reset clears both buffers
func (a *Accumulator) Reset() {
	a.user.Reset()
	a.agent.Reset()
}

// Pending reports the buffered user and agent text
func (a *Accumulator) Pending() (user, agent string) {
	return a.user.String(), a.agent.String()
}
