// Package message defines the Message type used in LLM conversations.
package message

import (
	"strings"

	"github.com/google/uuid"

	"github.com/Chanpoe/ModelHub/pkg/chats/content"
	"github.com/Chanpoe/ModelHub/pkg/chats/role"
)

// Message represents a single message in a conversation.
// Messages are treated as immutable values: once a message is appended to a
// chat, changes are made by building a new message (see WithParts).
type Message struct {
	ID    string
	Role  role.Role
	Parts []content.Part
}

// New creates a message with a fresh ID and the given role and content parts.
func New(r role.Role, parts ...content.Part) Message {
	return Message{
		ID:    uuid.NewString(),
		Role:  r,
		Parts: parts,
	}
}

// NewText creates a message with a single Text content part.
func NewText(r role.Role, text string) Message {
	return New(r, content.Text{Text: text})
}

// TextContent concatenates the text of all Text parts in the message.
func (m Message) TextContent() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if t, ok := p.(content.Text); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}

// Images returns all Image parts in the message.
func (m Message) Images() []content.Image {
	var imgs []content.Image
	for _, p := range m.Parts {
		if img, ok := p.(content.Image); ok {
			imgs = append(imgs, img)
		}
	}
	return imgs
}

// HasImages reports whether the message carries at least one image.
func (m Message) HasImages() bool {
	for _, p := range m.Parts {
		if _, ok := p.(content.Image); ok {
			return true
		}
	}
	return false
}

// WithParts returns a copy of m, under the same ID, holding parts instead.
func (m Message) WithParts(parts ...content.Part) Message {
	out := m.Clone()
	out.Parts = cloneParts(parts)
	return out
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	out := m
	out.Parts = cloneParts(m.Parts)
	return out
}

// Equal reports whether m and o have the same role and content. IDs are not
// compared.
func (m Message) Equal(o Message) bool {
	if m.Role != o.Role || len(m.Parts) != len(o.Parts) {
		return false
	}
	for i := range m.Parts {
		if !content.Equal(m.Parts[i], o.Parts[i]) {
			return false
		}
	}
	return true
}

func cloneParts(parts []content.Part) []content.Part {
	if parts == nil {
		return nil
	}
	out := make([]content.Part, len(parts))
	for i, p := range parts {
		out[i] = content.Clone(p)
	}
	return out
}
