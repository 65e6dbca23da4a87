package prompt

import "github.com/stupiduntilnot/cortexchat/internal/model"

// WindowCompressor keeps only the last MaxMessages messages.
type WindowCompressor struct {
	MaxMessages int
}

// Compress truncates messages to the most recent MaxMessages entries.
// MaxMessages <= 0 disables truncation.
func (c *WindowCompressor) Compress(messages []model.Message) []model.Message {
	if c.MaxMessages <= 0 || len(messages) <= c.MaxMessages {
		return messages
	}
	return messages[len(messages)-c.MaxMessages:]
}
