// Package prompt renders conversation history into a single completion prompt.
package prompt

import "github.com/stupiduntilnot/cortexchat/internal/model"

// DefaultSystemInstruction is the fixed instruction placed at the top of every prompt.
const DefaultSystemInstruction = "You are a helpful assistant. Answer clearly and in a structured way."

// Compressor reduces history before it is rendered. It is the extension point
// for bounded-window or summarizing policies; the default keeps everything.
type Compressor interface {
	Compress(messages []model.Message) []model.Message
}
