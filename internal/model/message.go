package model

import (
	"fmt"
	"strings"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a model-agnostic chat message shared by the store, the prompt
// builder and the session.
type Message struct {
	Role    Role
	Content string
}

// ParseRole lowercases and validates a stored or caller-supplied role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return r, nil
	}
	return "", fmt.Errorf("invalid role %q", s)
}
