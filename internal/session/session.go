// Package session holds the state of one conversation as seen by one
// front-end instance and mediates between the message store, the prompt
// builder and the completion gateway.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stupiduntilnot/cortexchat/internal/completion"
	"github.com/stupiduntilnot/cortexchat/internal/model"
	"github.com/stupiduntilnot/cortexchat/internal/prompt"
)

// State is the session's position in the conversation lifecycle.
type State string

const (
	StateFresh   State = "fresh"
	StateGreeted State = "greeted"
	StateLoaded  State = "loaded"
	StateActive  State = "active"
)

var (
	// ErrAssistantUnavailable wraps completion failures surfaced to the user.
	ErrAssistantUnavailable = errors.New("the assistant is unavailable")
	// ErrNotGreeted is returned by Submit before Greet on a fresh conversation.
	ErrNotGreeted = errors.New("conversation has not been greeted")
)

// MessageStore is the durable log the session writes through.
type MessageStore interface {
	Append(ctx context.Context, conversationID string, role model.Role, content string) error
	Load(ctx context.Context, conversationID string) ([]model.Message, error)
	ConversationIDs(ctx context.Context) ([]string, error)
}

// Completer produces the assistant reply for a rendered prompt.
type Completer interface {
	Complete(ctx context.Context, modelID, prompt string) (completion.Reply, error)
}

// Options configures a Session. Blank fields take defaults.
type Options struct {
	Model    string
	Greeting string
	Builder  *prompt.Builder
	Logger   *zap.Logger
	NewID    func() string
}

// Turn is the outcome of one Submit.
type Turn struct {
	User      model.Message
	Assistant model.Message
	Reply     completion.Reply
	// Persisted is false when at least one of the two appends failed.
	Persisted bool
}

// Session is safe for use from multiple goroutines, but operations are
// serialized: a submit blocks any other operation until its reply arrives.
type Session struct {
	store     MessageStore
	completer Completer
	builder   *prompt.Builder
	greeting  string
	newID     func() string
	log       *zap.Logger

	mu       sync.Mutex
	model    string
	id       string
	messages []model.Message
	greeted  bool
	state    State
}

// NewID returns a random conversation identifier.
func NewID() string {
	return uuid.NewString()
}

// New starts a fresh conversation with a new identifier.
func New(store MessageStore, completer Completer, opts Options) (*Session, error) {
	if opts.Model == "" {
		opts.Model = model.MistralLarge
	}
	if _, err := model.Lookup(opts.Model); err != nil {
		return nil, err
	}
	if opts.Builder == nil {
		opts.Builder = prompt.NewBuilder("", nil)
	}
	if opts.NewID == nil {
		opts.NewID = NewID
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &Session{
		store:     store,
		completer: completer,
		builder:   opts.Builder,
		greeting:  opts.Greeting,
		newID:     opts.NewID,
		log:       opts.Logger,
		model:     opts.Model,
	}
	s.reset()
	return s, nil
}

func (s *Session) reset() {
	s.id = s.newID()
	s.messages = nil
	s.greeted = false
	s.state = StateFresh
}

// ID returns the active conversation identifier.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Greeted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.greeted
}

func (s *Session) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// SetModel switches the model used for subsequent turns.
func (s *Session) SetModel(id string) error {
	if _, err := model.Lookup(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = id
	return nil
}

// Messages returns a copy of the in-memory history.
func (s *Session) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Greet emits the welcome message once per fresh conversation. It reports
// whether a greeting was added; an empty greeting only marks the session greeted.
func (s *Session) Greet(ctx context.Context) (model.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.greeted {
		return model.Message{}, false
	}
	s.greeted = true
	s.state = StateGreeted
	if s.greeting == "" {
		return model.Message{}, false
	}
	msg := model.Message{Role: model.RoleAssistant, Content: s.greeting}
	s.messages = append(s.messages, msg)
	s.persist(ctx, msg)
	return msg, true
}

// Submit runs one exchange: the user message is kept and persisted, the
// prompt is built from the history before it, and the reply is kept and
// persisted. Input is trimmed and blank input is a no-op. On completion
// failure the user message stays, no assistant message is added, and the
// error wraps ErrAssistantUnavailable.
func (s *Session) Submit(ctx context.Context, text string) (Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Turn{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.greeted {
		return Turn{}, ErrNotGreeted
	}

	rendered := s.builder.Build(s.messages, text)

	turn := Turn{User: model.Message{Role: model.RoleUser, Content: text}}
	s.messages = append(s.messages, turn.User)
	s.state = StateActive
	turn.Persisted = s.persist(ctx, turn.User)

	reply, err := s.completer.Complete(ctx, s.model, rendered)
	if err != nil {
		s.log.Error("completion failed",
			zap.String("conversation_id", s.id),
			zap.String("model", s.model),
			zap.Error(err),
		)
		return turn, fmt.Errorf("%w: %w", ErrAssistantUnavailable, err)
	}

	turn.Reply = reply
	turn.Assistant = model.Message{Role: model.RoleAssistant, Content: reply.Text}
	s.messages = append(s.messages, turn.Assistant)
	if !s.persist(ctx, turn.Assistant) {
		turn.Persisted = false
	}
	s.log.Info("turn completed",
		zap.String("conversation_id", s.id),
		zap.String("model", s.model),
		zap.Int64("latency_ms", reply.Latency.Milliseconds()),
		zap.Int("attempts", reply.Attempts),
	)
	return turn, nil
}

// Load replaces the session with a stored conversation. The loaded
// conversation counts as greeted. On error the session is unchanged.
func (s *Session) Load(ctx context.Context, conversationID string) error {
	if strings.TrimSpace(conversationID) == "" {
		return fmt.Errorf("load: empty conversation id")
	}
	msgs, err := s.store.Load(ctx, conversationID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = conversationID
	s.messages = msgs
	s.greeted = true
	s.state = StateLoaded
	s.log.Info("conversation loaded", zap.String("conversation_id", conversationID), zap.Int("messages", len(msgs)))
	return nil
}

// NewChat drops the in-memory history and starts a fresh conversation.
func (s *Session) NewChat() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	s.log.Info("new conversation", zap.String("conversation_id", s.id))
	return s.id
}

// ConversationIDs lists stored conversations for the history picker.
func (s *Session) ConversationIDs(ctx context.Context) ([]string, error) {
	return s.store.ConversationIDs(ctx)
}

// persist writes msg and swallows the error after logging it; the in-memory
// turn the user already sees is never dropped.
func (s *Session) persist(ctx context.Context, msg model.Message) bool {
	if err := s.store.Append(ctx, s.id, msg.Role, msg.Content); err != nil {
		s.log.Error("failed to persist message",
			zap.String("conversation_id", s.id),
			zap.String("role", string(msg.Role)),
			zap.Error(err),
		)
		return false
	}
	return true
}
