package prompt

import (
	"strings"

	"github.com/stupiduntilnot/cortexchat/internal/model"
)

// Builder linearizes a system instruction, prior turns and the new input
// into one prompt string.
type Builder struct {
	System     string
	Compressor Compressor
}

// NewBuilder returns a Builder with the given instruction, or the default one
// when system is blank. A nil compressor keeps the full history.
func NewBuilder(system string, compressor Compressor) *Builder {
	if strings.TrimSpace(system) == "" {
		system = DefaultSystemInstruction
	}
	return &Builder{System: system, Compressor: compressor}
}

// Build renders the prompt. System messages in history are skipped; user and
// assistant messages appear as "<Role>: <content>" lines in order.
func (b *Builder) Build(history []model.Message, input string) string {
	turns := make([]model.Message, 0, len(history))
	for _, m := range history {
		if m.Role == model.RoleUser || m.Role == model.RoleAssistant {
			turns = append(turns, m)
		}
	}
	if b.Compressor != nil {
		turns = b.Compressor.Compress(turns)
	}

	var sb strings.Builder
	sb.WriteString(b.System)
	sb.WriteString("\n\nHistory:\n")
	for _, m := range turns {
		sb.WriteString(roleLabel(m.Role))
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	sb.WriteString("\nNew question:\n")
	sb.WriteString(input)
	sb.WriteString("\n\nAnswer:\n")
	return sb.String()
}

func roleLabel(r model.Role) string {
	if r == model.RoleAssistant {
		return "Assistant"
	}
	return "User"
}
