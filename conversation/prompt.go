package conversation

import (
	"strings"

	"voiceloop/core"
)

// BuildPrompt renders the transcript-continuation prompt for one inference
// call: the system instruction, the recent history as role-labeled lines, the
// new utterance as a final User line, and an empty Assistant cue line telling
// the model to continue the transcript.
//
// Deterministic: identical inputs produce a byte-identical prompt. Exchanges
// with empty text are still emitted as empty lines so prompt lines stay
// aligned with displayed history.
func BuildPrompt(systemInstruction string, window []core.Exchange, utterance string) string {
	var b strings.Builder
	b.WriteString(systemInstruction)
	b.WriteString("\n")
	for _, e := range window {
		b.WriteString(roleLabel(e.Role))
		b.WriteString(": ")
		b.WriteString(e.Text)
		b.WriteString("\n")
	}
	b.WriteString("User: ")
	b.WriteString(utterance)
	b.WriteString("\nAssistant:")
	return b.String()
}

func roleLabel(r core.Role) string {
	if r == core.RoleAssistant {
		return "Assistant"
	}
	return "User"
}
