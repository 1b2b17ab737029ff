// Package chat provides the conversation context for LLM interactions: an
// ordered message history together with cumulative token usage.
//
// A Chat validates role alternation on Append. By default validation is
// strict and violations are rejected with [ErrInvalidRole]; a chat created
// with [Permissive] accepts them and only logs a warning.
package chat

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/Chanpoe/ModelHub/pkg/chats/message"
	"github.com/Chanpoe/ModelHub/pkg/chats/role"
	"github.com/Chanpoe/ModelHub/pkg/modeladapter/usage"
)

// ErrInvalidRole is returned when a message would break the role alternation
// of the history (system first, then alternating user/assistant) or carries
// an unknown role.
var ErrInvalidRole = errors.New("chat: invalid role")

// ErrNegativeUsage is returned when a usage update would decrease the totals.
var ErrNegativeUsage = errors.New("chat: negative token count")

// Reader is a read-only view of a conversation. Adapters receive a Reader so
// they cannot alter the history they translate.
type Reader interface {
	Len() int
	At(index int) message.Message
	Render() []message.Message
	Each(fn func(int, message.Message) bool)
	SystemPrompt() string
}

var (
	_ Reader = (*Chat)(nil)
	_ Reader = view{}
)

// Option configures a Chat.
type Option func(*Chat)

// Permissive disables strict role validation. Violations are logged, not
// rejected.
func Permissive() Option {
	return func(c *Chat) { c.permissive = true }
}

// WithLogger sets the logger used for advisory validation warnings.
func WithLogger(l *slog.Logger) Option {
	return func(c *Chat) { c.logger = l }
}

// Chat is the mutable conversation context. It owns the message history and
// the running token usage totals.
// Chat is not safe for concurrent use; callers must synchronize externally.
type Chat struct {
	messages   []message.Message
	usage      usage.Tracker
	permissive bool
	logger     *slog.Logger
}

// New creates an empty Chat.
func New(opts ...Option) *Chat {
	c := &Chat{}
	for _, o := range opts {
		o(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Strict reports whether role violations are rejected.
func (c *Chat) Strict() bool {
	return !c.permissive
}

// Append adds messages to the conversation. Either all messages are
// appended or, when one of them is rejected, none are.
func (c *Chat) Append(msgs ...message.Message) error {
	prev, hasPrev := c.lastRole()
	pos := len(c.messages)

	for _, m := range msgs {
		if err := checkOrder(prev, hasPrev, pos, m.Role); err != nil {
			if !m.Role.Valid() || c.Strict() {
				return err
			}
			c.logger.Warn("chat: accepting out-of-order message", "role", m.Role, "index", pos, "err", err)
		}
		prev, hasPrev = m.Role, true
		pos++
	}

	for _, m := range msgs {
		c.messages = append(c.messages, m.Clone())
	}

	return nil
}

// checkOrder validates next against the role of the message before it.
func checkOrder(prev role.Role, hasPrev bool, pos int, next role.Role) error {
	if !next.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidRole, next)
	}

	switch {
	case next == role.System && pos != 0:
		return fmt.Errorf("%w: system message at index %d", ErrInvalidRole, pos)
	case !hasPrev || prev == role.System:
		if next == role.Assistant {
			return fmt.Errorf("%w: conversation must start with a user message", ErrInvalidRole)
		}
	case prev == next:
		return fmt.Errorf("%w: consecutive %s messages at index %d", ErrInvalidRole, next, pos)
	}

	return nil
}

func (c *Chat) lastRole() (role.Role, bool) {
	if len(c.messages) == 0 {
		return "", false
	}
	return c.messages[len(c.messages)-1].Role, true
}

// Len returns the number of messages in the conversation.
func (c *Chat) Len() int {
	return len(c.messages)
}

// At returns a copy of the message at the given index.
// It panics if the index is out of range.
func (c *Chat) At(index int) message.Message {
	return c.messages[index].Clone()
}

// Last returns the most recent message and true, or a zero Message and false
// if the conversation is empty.
func (c *Chat) Last() (message.Message, bool) {
	if len(c.messages) == 0 {
		return message.Message{}, false
	}
	return c.messages[len(c.messages)-1].Clone(), true
}

// Messages returns a copy of all messages in the conversation.
func (c *Chat) Messages() []message.Message {
	cp := make([]message.Message, len(c.messages))
	for i, m := range c.messages {
		cp[i] = m.Clone()
	}
	return cp
}

// Render returns the history in conversation order, ready for an adapter to
// translate. It does not modify the chat.
func (c *Chat) Render() []message.Message {
	return c.Messages()
}

// Each iterates over messages, calling fn for each one. If fn returns false,
// iteration stops early.
func (c *Chat) Each(fn func(int, message.Message) bool) {
	for i, m := range c.messages {
		if !fn(i, m.Clone()) {
			return
		}
	}
}

// SystemPrompt returns the text content of the leading system message, or an
// empty string if there is none.
func (c *Chat) SystemPrompt() string {
	if len(c.messages) > 0 && c.messages[0].Role == role.System {
		return c.messages[0].TextContent()
	}
	return ""
}

// AccumulateUsage adds one turn's prompt and completion tokens to the totals.
func (c *Chat) AccumulateUsage(promptTokens, completionTokens int) error {
	return c.AddUsage(usage.TokenCount{InputTokens: promptTokens, OutputTokens: completionTokens})
}

// AddUsage adds one turn's token count to the totals.
func (c *Chat) AddUsage(tc usage.TokenCount) error {
	if tc.InputTokens < 0 || tc.OutputTokens < 0 {
		return fmt.Errorf("%w: %d/%d", ErrNegativeUsage, tc.InputTokens, tc.OutputTokens)
	}
	c.usage.Add(tc)
	return nil
}

// Usage returns the cumulative token usage across all recorded turns.
func (c *Chat) Usage() usage.TokenCount {
	return c.usage.Total()
}

// Turns returns the usage recorded for each turn, oldest first.
func (c *Chat) Turns() []usage.TokenCount {
	return c.usage.Entries()
}

// Clear drops every message except a leading system message and resets the
// usage totals.
func (c *Chat) Clear() {
	var kept []message.Message
	if len(c.messages) > 0 && c.messages[0].Role == role.System {
		kept = []message.Message{c.messages[0]}
	}
	c.messages = kept
	c.usage.Reset()
}

// View returns a read-only Reader over c. Unlike c itself, the view cannot
// be asserted back to a type with mutating methods. It reflects later
// changes to c.
func (c *Chat) View() Reader { return view{c: c} }

type view struct{ c *Chat }

func (v view) Len() int                                { return v.c.Len() }
func (v view) At(index int) message.Message            { return v.c.At(index) }
func (v view) Render() []message.Message               { return v.c.Render() }
func (v view) Each(fn func(int, message.Message) bool) { v.c.Each(fn) }
func (v view) SystemPrompt() string                    { return v.c.SystemPrompt() }
