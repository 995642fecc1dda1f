// Package chat keeps one conversation with the backend: the ordered message
// history and the single reply that may be in flight at any time.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/namikmesic/varys/internal/client"
	"github.com/rs/zerolog/log"
)

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrNoUserMessage  = errors.New("no previous user message")
	ErrNothingToRetry = errors.New("nothing to retry")
)

const (
	sendFailure       = "Sorry, there was an error processing your request."
	regenerateFailure = "Sorry, there was an error regenerating the response."
	uploadFailure     = "Sorry, there was an error processing your file."
)

// Backend is the part of the HTTP client a conversation drives.
type Backend interface {
	Capabilities(ctx context.Context) (client.Capabilities, error)
	Chat(ctx context.Context, message string, stream bool) (*client.Stream, error)
	Regenerate(ctx context.Context, stream bool) (*client.Stream, error)
	Upload(ctx context.Context, filename string, r io.Reader, stream bool) (*client.Stream, error)
}

// Store persists messages once their turn has finished.
type Store interface {
	SaveMessages(ctx context.Context, conversationID uuid.UUID, msgs ...Message) error
}

// Publisher receives every message change.
type Publisher interface {
	Publish(ctx context.Context, u Update) error
}

type Conversation struct {
	id        uuid.UUID
	backend   Backend
	store     Store
	publisher Publisher
	streaming bool

	mu       sync.Mutex
	messages []Message
	lastUser string
	active   *Turn
	caps     *client.Capabilities
}

type Option func(*Conversation)

func WithStore(s Store) Option {
	return func(c *Conversation) { c.store = s }
}

func WithPublisher(p Publisher) Option {
	return func(c *Conversation) { c.publisher = p }
}

// WithStreaming turns streamed replies on or off. Streaming also requires
// the backend to advertise it.
func WithStreaming(enabled bool) Option {
	return func(c *Conversation) { c.streaming = enabled }
}

// WithID resumes an existing conversation.
func WithID(id uuid.UUID) Option {
	return func(c *Conversation) { c.id = id }
}

// WithHistory seeds the conversation with previously stored messages.
func WithHistory(msgs []Message) Option {
	return func(c *Conversation) {
		c.messages = slices.Clone(msgs)
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].Role == RoleUser {
				c.lastUser = msgs[i].Content
				break
			}
		}
	}
}

func New(backend Backend, opts ...Option) *Conversation {
	c := &Conversation{
		id:        uuid.New(),
		backend:   backend,
		streaming: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Conversation) ID() uuid.UUID {
	return c.id
}

// Messages returns a copy of the history.
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.messages)
}

// Active returns the turn still in flight, or nil.
func (c *Conversation) Active() *Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Send posts a user message and returns the turn carrying the reply.
// Failures to reach the backend are reported by the turn, not here.
func (c *Conversation) Send(ctx context.Context, text string) (*Turn, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	c.cancelActive()

	user := newMessage(RoleUser, text, StatusComplete)
	c.mu.Lock()
	c.lastUser = text
	t := c.beginLocked(ctx, "chat", sendFailure, &user)
	c.mu.Unlock()

	c.open(ctx, t, func(ctx context.Context, stream bool) (*client.Stream, error) {
		return c.backend.Chat(ctx, text, stream)
	})
	return t, nil
}

// Retry resends the last user message after a failed reply without adding
// it to the history again.
func (c *Conversation) Retry(ctx context.Context) (*Turn, error) {
	c.cancelActive()

	c.mu.Lock()
	text := c.lastUser
	if text == "" {
		c.mu.Unlock()
		return nil, ErrNothingToRetry
	}
	if n := len(c.messages); n > 0 && c.messages[n-1].Role == RoleAssistant && c.messages[n-1].Status == StatusError {
		c.messages = c.messages[:n-1]
	}
	t := c.beginLocked(ctx, "retry", sendFailure, nil)
	c.mu.Unlock()

	c.open(ctx, t, func(ctx context.Context, stream bool) (*client.Stream, error) {
		return c.backend.Chat(ctx, text, stream)
	})
	return t, nil
}

// Regenerate asks for a new answer to the last user message. The trailing
// assistant message is rewritten in place.
func (c *Conversation) Regenerate(ctx context.Context) (*Turn, error) {
	c.cancelActive()

	c.mu.Lock()
	if !slices.ContainsFunc(c.messages, func(m Message) bool { return m.Role == RoleUser }) {
		c.mu.Unlock()
		return nil, ErrNoUserMessage
	}
	var t *Turn
	if n := len(c.messages); c.messages[n-1].Role == RoleAssistant {
		m := &c.messages[n-1]
		m.Content = ""
		m.Status = StatusThinking
		t = c.attachLocked(ctx, "regenerate", regenerateFailure, nil, m.ID)
	} else {
		t = c.beginLocked(ctx, "regenerate", regenerateFailure, nil)
	}
	c.mu.Unlock()

	c.open(ctx, t, func(ctx context.Context, stream bool) (*client.Stream, error) {
		return c.backend.Regenerate(ctx, stream)
	})
	return t, nil
}

// Upload sends a file and returns the turn carrying the backend's reply.
func (c *Conversation) Upload(ctx context.Context, filename string, r io.Reader) (*Turn, error) {
	name := filepath.Base(filename)
	if !client.AllowedUpload(name) {
		return nil, fmt.Errorf("upload %s: %w", name, client.ErrFileTypeNotAllowed)
	}
	c.cancelActive()

	user := newMessage(RoleUser, "Uploading file: "+name, StatusComplete)
	c.mu.Lock()
	t := c.beginLocked(ctx, "upload", uploadFailure, &user)
	c.mu.Unlock()

	c.open(ctx, t, func(ctx context.Context, stream bool) (*client.Stream, error) {
		return c.backend.Upload(ctx, name, r, stream)
	})
	return t, nil
}

// beginLocked appends the optional user message and an assistant
// placeholder, and makes the new turn active.
func (c *Conversation) beginLocked(ctx context.Context, op, failure string, user *Message) *Turn {
	if user != nil {
		c.messages = append(c.messages, *user)
	}
	placeholder := newMessage(RoleAssistant, "", StatusThinking)
	c.messages = append(c.messages, placeholder)
	return c.attachLocked(ctx, op, failure, user, placeholder.ID)
}

func (c *Conversation) attachLocked(ctx context.Context, op, failure string, user *Message, reply uuid.UUID) *Turn {
	t := newTurn(ctx, c, op, failure, user, reply)
	c.active = t
	return t
}

// announce broadcasts the messages a new turn starts with.
func (c *Conversation) announce(ctx context.Context, t *Turn) {
	if t.user != nil {
		c.publish(ctx, *t.user)
	}
	c.mu.Lock()
	m, ok := c.findLocked(t.reply)
	c.mu.Unlock()
	if ok {
		c.publish(ctx, m)
	}
}

func (c *Conversation) cancelActive() {
	c.mu.Lock()
	t := c.active
	c.mu.Unlock()
	if t != nil {
		t.Cancel()
	}
}

// open issues the request for t. The placeholder turns to generating once
// the backend has answered.
func (c *Conversation) open(ctx context.Context, t *Turn, call func(context.Context, bool) (*client.Stream, error)) {
	c.announce(ctx, t)
	s, err := call(ctx, c.useStreaming(ctx))
	if err != nil {
		log.Warn().Err(err).Str("conversation_id", c.id.String()).Str("op", t.op).Msg("request failed")
		t.finish(StatusError, t.failure, err)
		return
	}
	if !t.attach(s) {
		return
	}
	c.update(t.reply, func(m *Message) { m.Status = StatusGenerating })
}

func (c *Conversation) useStreaming(ctx context.Context) bool {
	if !c.streaming {
		return false
	}
	c.mu.Lock()
	caps := c.caps
	c.mu.Unlock()
	if caps != nil {
		return caps.Streaming
	}

	got, err := c.backend.Capabilities(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("capabilities unavailable, using non-streaming replies")
		return false
	}
	c.mu.Lock()
	c.caps = &got
	c.mu.Unlock()
	return got.Streaming
}

// update applies fn to the message with the given id and broadcasts the
// result.
func (c *Conversation) update(id uuid.UUID, fn func(*Message)) (Message, bool) {
	c.mu.Lock()
	var (
		m  Message
		ok bool
	)
	for i := range c.messages {
		if c.messages[i].ID == id {
			fn(&c.messages[i])
			m, ok = c.messages[i], true
			break
		}
	}
	c.mu.Unlock()
	if ok {
		c.publish(context.Background(), m)
	}
	return m, ok
}

func (c *Conversation) findLocked(id uuid.UUID) (Message, bool) {
	for _, m := range c.messages {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

func (c *Conversation) release(t *Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == t {
		c.active = nil
	}
}

func (c *Conversation) publish(ctx context.Context, m Message) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.Publish(context.WithoutCancel(ctx), Update{ConversationID: c.id, Message: m}); err != nil {
		log.Debug().Err(err).Str("conversation_id", c.id.String()).Msg("publish update")
	}
}

func (c *Conversation) persist(ctx context.Context, msgs ...Message) {
	if c.store == nil || len(msgs) == 0 {
		return
	}
	if err := c.store.SaveMessages(context.WithoutCancel(ctx), c.id, msgs...); err != nil {
		log.Error().Err(err).Str("conversation_id", c.id.String()).Msg("failed to persist messages")
	}
}
